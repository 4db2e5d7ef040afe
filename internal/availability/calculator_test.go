package availability

import (
	"testing"
	"time"

	"github.com/gmachhub/lending/internal/lending"
)

func openOrder(id string, pickup, ret time.Time, lines ...lending.OrderLine) lending.Order {
	return lending.Order{
		ID:         id,
		Status:     lending.StatusOpen,
		PickupDate: pickup,
		ReturnDate: ret,
		Lines:      lines,
	}
}

func TestReservedQuantity(t *testing.T) {
	tables := ItemRef{ID: "item-tables", Name: "folding table"}
	july := func(d int) time.Time { return day(2024, 7, d) }

	orders := []lending.Order{
		openOrder("A", july(1), july(5), lending.OrderLine{ItemID: "item-tables", Name: "folding table", Quantity: 3}),
		openOrder("B", july(3), july(7), lending.OrderLine{ItemID: "item-tables", Name: "folding table", Quantity: 3}),
		openOrder("C", july(20), july(25), lending.OrderLine{ItemID: "item-tables", Name: "folding table", Quantity: 2}),
	}

	got := ReservedQuantity(tables, NewDateRange(july(3), july(7)), orders, "B")
	if got != 3 {
		t.Errorf("reserved for B's range excluding B = %d, want 3 (order A only)", got)
	}

	// no exclusion: A and B both count, C is out of range
	got = ReservedQuantity(tables, NewDateRange(july(3), july(7)), orders, "")
	if got != 6 {
		t.Errorf("reserved without exclusion = %d, want 6", got)
	}
}

func TestReservedQuantitySkipsNonOpenOrders(t *testing.T) {
	ref := ItemRef{ID: "x"}
	closed := openOrder("closed", day(2024, 7, 1), day(2024, 7, 10), lending.OrderLine{ItemID: "x", Quantity: 5})
	closed.Status = lending.StatusClosed
	inspecting := openOrder("insp", day(2024, 7, 1), day(2024, 7, 10), lending.OrderLine{ItemID: "x", Quantity: 5})
	inspecting.Status = lending.StatusUnderInspection

	got := ReservedQuantity(ref, NewDateRange(day(2024, 7, 2), day(2024, 7, 4)), []lending.Order{closed, inspecting}, "")
	if got != 0 {
		t.Errorf("non-open orders reserved %d, want 0", got)
	}
}

func TestReservedQuantityCountsOrderOnce(t *testing.T) {
	ref := ItemRef{ID: "x"}
	// order listed twice in the slice, and listing the item on two lines:
	// only the first matching line of the first occurrence counts
	o := openOrder("dup", day(2024, 7, 1), day(2024, 7, 10),
		lending.OrderLine{ItemID: "x", Quantity: 2},
		lending.OrderLine{ItemID: "x", Quantity: 9},
	)
	got := ReservedQuantity(ref, NewDateRange(day(2024, 7, 2), day(2024, 7, 4)), []lending.Order{o, o}, "")
	if got != 2 {
		t.Errorf("duplicated order reserved %d, want 2", got)
	}
}

func TestReservedQuantityNameFallback(t *testing.T) {
	ref := ItemRef{ID: "item-chairs", Name: "chair"}
	// legacy line with no item id; joins by name
	o := openOrder("legacy", day(2024, 7, 1), day(2024, 7, 10),
		lending.OrderLine{Name: "chair", Quantity: 4})
	got := ReservedQuantity(ref, NewDateRange(day(2024, 7, 5), day(2024, 7, 6)), []lending.Order{o}, "")
	if got != 4 {
		t.Errorf("name-fallback reserved %d, want 4", got)
	}
}

func TestAvailableQuantityFloor(t *testing.T) {
	ref := ItemRef{ID: "x"}
	rng := NewDateRange(day(2024, 7, 1), day(2024, 7, 10))
	orders := []lending.Order{
		openOrder("A", day(2024, 7, 1), day(2024, 7, 10), lending.OrderLine{ItemID: "x", Quantity: 50}),
	}
	cases := []struct {
		stock, want int
	}{
		{0, 0},
		{-3, 0},
		{10, 0}, // reservations exceed stock, floored
		{50, 0}, // exactly consumed
		{60, 10},
	}
	for _, c := range cases {
		if got := AvailableQuantity(c.stock, ref, rng, orders, ""); got != c.want {
			t.Errorf("AvailableQuantity(stock=%d) = %d, want %d", c.stock, got, c.want)
		}
		if got := AvailableQuantity(c.stock, ref, rng, orders, ""); got < 0 {
			t.Errorf("AvailableQuantity(stock=%d) went negative", c.stock)
		}
	}
}

func TestAvailableQuantityFailsOpenOnMissingDates(t *testing.T) {
	ref := ItemRef{ID: "x"}
	orders := []lending.Order{
		openOrder("A", day(2024, 7, 1), day(2024, 7, 10), lending.OrderLine{ItemID: "x", Quantity: 50}),
	}
	// no candidate period yet: full stock, explicit policy
	if got := AvailableQuantity(7, ref, DateRange{}, orders, ""); got != 7 {
		t.Errorf("unbounded range available = %d, want full stock 7", got)
	}
	if got := AvailableQuantity(7, ref, DateRange{Start: day(2024, 7, 1)}, orders, ""); got != 7 {
		t.Errorf("half-bounded range available = %d, want full stock 7", got)
	}
}

func TestSelfExclusion(t *testing.T) {
	ref := ItemRef{ID: "x"}
	rng := NewDateRange(day(2024, 7, 1), day(2024, 7, 10))
	others := []lending.Order{
		openOrder("A", day(2024, 7, 2), day(2024, 7, 4), lending.OrderLine{ItemID: "x", Quantity: 2}),
	}
	self := openOrder("self", day(2024, 7, 1), day(2024, 7, 10), lending.OrderLine{ItemID: "x", Quantity: 5})

	withSelf := AvailableQuantity(10, ref, rng, append(others, self), "self")
	without := AvailableQuantity(10, ref, rng, others, "")
	if withSelf != without {
		t.Errorf("excluding self gave %d, as-if-absent gave %d; must match", withSelf, without)
	}
}

func TestMaxSelectable(t *testing.T) {
	ref := ItemRef{ID: "x"}
	rng := NewDateRange(day(2024, 7, 1), day(2024, 7, 10))
	others := []lending.Order{
		openOrder("A", day(2024, 7, 2), day(2024, 7, 4), lending.OrderLine{ItemID: "x", Quantity: 3}),
	}
	self := openOrder("self", day(2024, 7, 1), day(2024, 7, 10), lending.OrderLine{ItemID: "x", Quantity: 5})
	all := append(others, self)

	// two conventions, same ceiling: exclude self and add nothing back,
	// or scan self like the rest and add its current quantity back
	excluded := MaxSelectable(10, ref, rng, all, "self", 0)
	addedBack := MaxSelectable(10, ref, rng, all, "", 5)
	if excluded != addedBack {
		t.Errorf("exclusion convention = %d, add-back convention = %d; must match", excluded, addedBack)
	}
	if excluded != 7 {
		t.Errorf("max selectable = %d, want 7 (stock 10 - others 3)", excluded)
	}
}
