package availability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gmachhub/lending/internal/lending"
)

// fakeStore keeps items and orders in memory and applies annotations in
// place, so consecutive sweeps see their own writes.
type fakeStore struct {
	items  []lending.Item
	orders []lending.Order

	failRead       bool
	failAnnotateID string // annotations for this order id fail
	annotateCalls  int
}

var errBoom = errors.New("boom")

func (s *fakeStore) ListItems(ctx context.Context) ([]lending.Item, error) {
	if s.failRead {
		return nil, errBoom
	}
	return s.items, nil
}

func (s *fakeStore) ListOpenOrders(ctx context.Context) ([]lending.Order, error) {
	if s.failRead {
		return nil, errBoom
	}
	var out []lending.Order
	for _, o := range s.orders {
		if o.Status == lending.StatusOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) AnnotateOrder(ctx context.Context, orderID string, status lending.AvailabilityStatus, conflicts []lending.ConflictEntry, checkedAt time.Time) error {
	s.annotateCalls++
	if orderID == s.failAnnotateID {
		return errBoom
	}
	for i := range s.orders {
		if s.orders[i].ID == orderID {
			s.orders[i].AvailabilityStatus = status
			s.orders[i].AvailabilityConflicts = conflicts
			s.orders[i].LastAvailabilityCheck = checkedAt
			return nil
		}
	}
	return lending.ErrNotFound
}

func (s *fakeStore) setStock(itemID string, qty int) {
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items[i].Quantity = qty
		}
	}
}

func (s *fakeStore) order(id string) *lending.Order {
	for i := range s.orders {
		if s.orders[i].ID == id {
			return &s.orders[i]
		}
	}
	return nil
}

// overbookedStore builds the canonical clash: stock 5, order A holds 3 for
// Jul 1-5, order B holds 3 for Jul 3-7.
func overbookedStore() *fakeStore {
	return &fakeStore{
		items: []lending.Item{{ID: "item-x", Name: "X", Quantity: 5}},
		orders: []lending.Order{
			openOrder("A", day(2024, 7, 1), day(2024, 7, 5), lending.OrderLine{ItemID: "item-x", Name: "X", Quantity: 3}),
			openOrder("B", day(2024, 7, 3), day(2024, 7, 7), lending.OrderLine{ItemID: "item-x", Name: "X", Quantity: 3}),
		},
	}
}

func TestCheckAllActiveOrdersFlagsConflict(t *testing.T) {
	store := overbookedStore()
	c := &Checker{Store: store}

	sum, err := c.CheckAllActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// both orders see 3 reserved by the other against stock 5: each can have
	// only 2, both need 3
	if sum.ProblematicOrders != 2 {
		t.Errorf("problematic = %d, want 2", sum.ProblematicOrders)
	}
	if sum.ResolvedOrders != 0 {
		t.Errorf("resolved = %d, want 0", sum.ResolvedOrders)
	}

	b := store.order("B")
	if b.AvailabilityStatus != lending.AvailabilityConflict {
		t.Fatalf("order B status = %s, want CONFLICT", b.AvailabilityStatus)
	}
	if len(b.AvailabilityConflicts) != 1 {
		t.Fatalf("order B conflicts = %d entries, want 1", len(b.AvailabilityConflicts))
	}
	entry := b.AvailabilityConflicts[0]
	if entry.ItemName != "X" {
		t.Errorf("conflict item = %q, want X", entry.ItemName)
	}
	if entry.Message != "3 needed, only 2 available" {
		t.Errorf("conflict message = %q, want %q", entry.Message, "3 needed, only 2 available")
	}
}

func TestSweepResolvesAfterStockIncrease(t *testing.T) {
	store := overbookedStore()
	c := &Checker{Store: store}
	ctx := context.Background()

	if _, err := c.CheckAllActiveOrders(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	store.setStock("item-x", 6)

	sum, err := c.CheckAllActiveOrders(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if sum.ProblematicOrders != 0 {
		t.Errorf("problematic after restock = %d, want 0", sum.ProblematicOrders)
	}
	if sum.ResolvedOrders != 2 {
		t.Errorf("resolved after restock = %d, want 2", sum.ResolvedOrders)
	}
	if got := store.order("B").AvailabilityStatus; got != lending.AvailabilityOK {
		t.Errorf("order B status = %s, want OK", got)
	}
	if got := len(store.order("B").AvailabilityConflicts); got != 0 {
		t.Errorf("order B still carries %d conflict entries", got)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store := overbookedStore()
	c := &Checker{Store: store}
	ctx := context.Background()

	first, err := c.CheckAllActiveOrders(ctx)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	second, err := c.CheckAllActiveOrders(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.ProblematicOrders != first.ProblematicOrders {
		t.Errorf("problematic changed between identical sweeps: %d then %d", first.ProblematicOrders, second.ProblematicOrders)
	}
	if second.ResolvedOrders != 0 {
		t.Errorf("second sweep resolved %d orders with no data change", second.ResolvedOrders)
	}
	if len(second.NewlyConflicted) != 0 {
		t.Errorf("second sweep reported %d newly conflicted orders", len(second.NewlyConflicted))
	}
}

func TestSweepSkipsUnaffectedWrites(t *testing.T) {
	store := &fakeStore{
		items: []lending.Item{{ID: "item-x", Name: "X", Quantity: 10}},
		orders: []lending.Order{
			openOrder("A", day(2024, 7, 1), day(2024, 7, 5), lending.OrderLine{ItemID: "item-x", Name: "X", Quantity: 3}),
		},
	}
	c := &Checker{Store: store}
	if _, err := c.CheckAllActiveOrders(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if store.annotateCalls != 0 {
		t.Errorf("annotated %d orders that were and stayed OK", store.annotateCalls)
	}
}

func TestSweepReadFailure(t *testing.T) {
	c := &Checker{Store: &fakeStore{failRead: true}}
	if _, err := c.CheckAllActiveOrders(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("expected read failure to propagate, got %v", err)
	}
}

func TestSweepContinuesPastWriteFailure(t *testing.T) {
	store := overbookedStore()
	store.failAnnotateID = "A"
	c := &Checker{Store: store}

	sum, err := c.CheckAllActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("a failed annotation write must not fail the sweep: %v", err)
	}
	if sum.ProblematicOrders != 2 {
		t.Errorf("problematic = %d, want 2 despite the failed write", sum.ProblematicOrders)
	}
	// B's write still landed
	if got := store.order("B").AvailabilityStatus; got != lending.AvailabilityConflict {
		t.Errorf("order B status = %s, want CONFLICT", got)
	}
}

func TestClosedOrdersNeverReserve(t *testing.T) {
	store := overbookedStore()
	store.order("A").Status = lending.StatusClosed
	c := &Checker{Store: store}

	sum, err := c.CheckAllActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sum.ProblematicOrders != 0 {
		t.Errorf("problematic = %d, want 0 once A is closed", sum.ProblematicOrders)
	}
}

func TestRunAfterOrderClosure(t *testing.T) {
	store := overbookedStore()
	c := &Checker{Store: store}
	ctx := context.Background()

	// closing A frees its 3 units; B becomes satisfiable
	store.order("A").Status = lending.StatusClosed
	report, err := c.RunAfterOrderClosure(ctx, "A")
	if err != nil {
		t.Fatalf("closure run: %v", err)
	}
	if report.ShouldAlert {
		t.Errorf("no conflicts should remain, got alert with %d orders", len(report.Conflicts))
	}
}

func TestRunAfterOrderClosureStillConflicted(t *testing.T) {
	store := overbookedStore()
	// third order keeps the pressure on even after A closes
	store.orders = append(store.orders,
		openOrder("C", day(2024, 7, 4), day(2024, 7, 6), lending.OrderLine{ItemID: "item-x", Name: "X", Quantity: 4}))
	c := &Checker{Store: store}
	ctx := context.Background()

	store.order("A").Status = lending.StatusClosed
	report, err := c.RunAfterOrderClosure(ctx, "A")
	if err != nil {
		t.Fatalf("closure run: %v", err)
	}
	if !report.ShouldAlert {
		t.Fatal("expected an alert, B and C still clash over item X")
	}
	if len(report.Conflicts) != 2 {
		t.Errorf("conflicted orders = %d, want 2", len(report.Conflicts))
	}
	if !strings.Contains(report.Message, "2") {
		t.Errorf("message %q should mention the order count", report.Message)
	}
}

func TestRunAfterOrderClosureFiltersExplicitly(t *testing.T) {
	// belt check: the closed order is filtered by id even if its status
	// transition hasn't landed yet
	store := overbookedStore()
	c := &Checker{Store: store}

	report, err := c.RunAfterOrderClosure(context.Background(), "A")
	if err != nil {
		t.Fatalf("closure run: %v", err)
	}
	if report.ShouldAlert {
		t.Errorf("with A filtered out, B fits in stock; got alert %+v", report)
	}
}
