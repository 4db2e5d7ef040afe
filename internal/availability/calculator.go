package availability

import "github.com/gmachhub/lending/internal/lending"

// ItemRef identifies the item a reservation line refers to. Matching is by
// id; name is a deprecated fallback for lines written before ids were stored
// on them (two items sharing a name would collide under name matching, so
// new code must always carry ids).
type ItemRef struct {
	ID   string
	Name string
}

func (ref ItemRef) matches(l lending.OrderLine) bool {
	if ref.ID != "" && l.ItemID != "" {
		return ref.ID == l.ItemID
	}
	return ref.Name != "" && ref.Name == l.Name
}

// ReservedQuantity sums how much of one item is held by open orders whose
// date range overlaps the candidate range. The order identified by
// excludeOrderID is skipped (so an order being edited doesn't count against
// itself). Each order contributes at most once: the first matching line,
// deduplicated by order id. Pure; never negative.
func ReservedQuantity(ref ItemRef, candidate DateRange, openOrders []lending.Order, excludeOrderID string) int {
	if !candidate.Bounded() {
		return 0
	}
	total := 0
	seen := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		if o.ID == excludeOrderID || seen[o.ID] {
			continue
		}
		seen[o.ID] = true
		if o.Status != lending.StatusOpen {
			continue
		}
		if !candidate.Overlaps(NewDateRange(o.PickupDate, o.ReturnDate)) {
			continue
		}
		for _, l := range o.Lines {
			if ref.matches(l) {
				total += l.Quantity
				break
			}
		}
	}
	return total
}

// AvailableQuantity is stock minus reserved-by-others, floored at zero.
// An unbounded candidate range fails open and reports full stock: there is
// no period to check against yet, and the caller still needs a number to
// render. That fallback is policy, not an accident.
func AvailableQuantity(stock int, ref ItemRef, candidate DateRange, openOrders []lending.Order, excludeOrderID string) int {
	if stock <= 0 {
		return 0
	}
	if !candidate.Bounded() {
		return stock
	}
	avail := stock - ReservedQuantity(ref, candidate, openOrders, excludeOrderID)
	if avail < 0 {
		return 0
	}
	return avail
}

// MaxSelectable is the ceiling for a quantity picker while composing or
// editing an order: what's free to others plus what this order already
// holds. Pass selfReserved=0 when excludeOrderID already removes the order
// from the scan; pass the order's current quantity when it was scanned like
// any other (the two conventions give the same ceiling).
func MaxSelectable(stock int, ref ItemRef, candidate DateRange, openOrders []lending.Order, excludeOrderID string, selfReserved int) int {
	return AvailableQuantity(stock, ref, candidate, openOrders, excludeOrderID) + selfReserved
}
