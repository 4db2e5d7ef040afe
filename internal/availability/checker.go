package availability

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gmachhub/lending/internal/lending"
)

// Store is the narrow persistence contract the checker needs. The engine
// reads stock and open orders and writes only the availability annotation.
type Store interface {
	ListItems(ctx context.Context) ([]lending.Item, error)
	ListOpenOrders(ctx context.Context) ([]lending.Order, error)
	AnnotateOrder(ctx context.Context, orderID string, status lending.AvailabilityStatus, conflicts []lending.ConflictEntry, checkedAt time.Time) error
}

// Checker reconciles every open order's lines against current stock and the
// reservations held by all other open orders. A sweep is an idempotent
// reconciliation pass: annotations are a materialized view, safe to re-derive
// at any time. There is no mutual exclusion between sweeps; concurrent
// sweeps race last-write-wins and the next sweep corrects any staleness.
type Checker struct {
	Store Store
	Now   func() time.Time // test hook; nil means time.Now
}

// OrderConflicts pairs an order with its over-subscribed lines.
type OrderConflicts struct {
	OrderID   string                  `json:"order_id"`
	Borrower  string                  `json:"borrower,omitempty"`
	Conflicts []lending.ConflictEntry `json:"conflicts"`
}

// Summary reports one sweep.
type Summary struct {
	ProblematicOrders int              `json:"problematic_orders"` // in CONFLICT after the sweep
	ResolvedOrders    int              `json:"resolved_orders"`    // moved CONFLICT -> OK this sweep
	NewlyConflicted   []OrderConflicts `json:"newly_conflicted,omitempty"`
	Resolved          []string         `json:"resolved,omitempty"` // order ids
	CheckedAt         time.Time        `json:"checked_at"`
}

// ClosureReport is returned after an order closes, for the caller to surface
// as a warning when conflicts remain among the still-open orders.
type ClosureReport struct {
	ShouldAlert bool             `json:"should_alert"`
	Conflicts   []OrderConflicts `json:"conflicts,omitempty"`
	Message     string           `json:"message,omitempty"`
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// CheckAllActiveOrders runs one full sweep. Read failures abort the sweep
// and are returned; a failed annotation write for one order is logged and
// skipped so one bad write cannot sink the rest (best-effort annotation,
// not transactional).
func (c *Checker) CheckAllActiveOrders(ctx context.Context) (Summary, error) {
	return c.sweep(ctx, "")
}

// sweep recomputes every open order's annotation. skipOrderID additionally
// filters one order out of consideration entirely; CheckAllActiveOrders
// passes "" and RunAfterOrderClosure passes the just-closed order as a belt
// in case its status change hasn't landed yet.
func (c *Checker) sweep(ctx context.Context, skipOrderID string) (Summary, error) {
	items, err := c.Store.ListItems(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list items: %w", err)
	}
	orders, err := c.Store.ListOpenOrders(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list open orders: %w", err)
	}
	if skipOrderID != "" {
		kept := orders[:0:0]
		for _, o := range orders {
			if o.ID != skipOrderID {
				kept = append(kept, o)
			}
		}
		orders = kept
	}

	stockByID := make(map[string]int, len(items))
	stockByName := make(map[string]int, len(items))
	for _, it := range items {
		stockByID[it.ID] = it.Quantity
		stockByName[it.Name] = it.Quantity
	}

	sum := Summary{CheckedAt: c.now()}
	for _, o := range orders {
		rng := NewDateRange(o.PickupDate, o.ReturnDate)
		var conflicts []lending.ConflictEntry
		for _, l := range o.Lines {
			ref := ItemRef{ID: l.ItemID, Name: l.Name}
			stock, ok := stockByID[l.ItemID]
			if !ok {
				// deprecated name fallback; deleted items resolve to 0
				stock = stockByName[l.Name]
			}
			avail := AvailableQuantity(stock, ref, rng, orders, o.ID)
			if l.Quantity > avail {
				conflicts = append(conflicts, lending.ConflictEntry{
					ItemName: l.Name,
					Message:  fmt.Sprintf("%d needed, only %d available", l.Quantity, avail),
				})
			}
		}

		newStatus := lending.AvailabilityOK
		if len(conflicts) > 0 {
			newStatus = lending.AvailabilityConflict
		}
		prev := o.AvailabilityStatus
		if prev == "" {
			prev = lending.AvailabilityOK
		}

		if newStatus == lending.AvailabilityConflict {
			sum.ProblematicOrders++
			if prev != lending.AvailabilityConflict {
				sum.NewlyConflicted = append(sum.NewlyConflicted, OrderConflicts{
					OrderID: o.ID, Borrower: o.Borrower, Conflicts: conflicts,
				})
			}
		} else if prev == lending.AvailabilityConflict {
			sum.ResolvedOrders++
			sum.Resolved = append(sum.Resolved, o.ID)
		}

		if newStatus == prev && newStatus == lending.AvailabilityOK {
			continue // unaffected, nothing to write
		}
		if err := c.Store.AnnotateOrder(ctx, o.ID, newStatus, conflicts, sum.CheckedAt); err != nil {
			log.Printf("availability: annotate order %s: %v", o.ID, err)
		}
	}
	return sum, nil
}

// RunAfterOrderClosure re-sweeps once an order has transitioned to closed
// (the transition must happen first; the closed order is also filtered
// explicitly). When conflicts remain among the still-open orders, the report
// asks the caller to surface a warning.
func (c *Checker) RunAfterOrderClosure(ctx context.Context, closedOrderID string) (ClosureReport, error) {
	if _, err := c.sweep(ctx, closedOrderID); err != nil {
		return ClosureReport{}, err
	}

	// re-read for the current annotation set
	orders, err := c.Store.ListOpenOrders(ctx)
	if err != nil {
		return ClosureReport{}, fmt.Errorf("list open orders: %w", err)
	}
	var remaining []OrderConflicts
	for _, o := range orders {
		if o.ID == closedOrderID {
			continue
		}
		if o.AvailabilityStatus == lending.AvailabilityConflict {
			remaining = append(remaining, OrderConflicts{
				OrderID: o.ID, Borrower: o.Borrower, Conflicts: o.AvailabilityConflicts,
			})
		}
	}
	if len(remaining) == 0 {
		return ClosureReport{}, nil
	}
	return ClosureReport{
		ShouldAlert: true,
		Conflicts:   remaining,
		Message:     fmt.Sprintf("%d open order(s) still exceed available stock", len(remaining)),
	}, nil
}
