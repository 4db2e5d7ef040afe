package lending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AnnotateOrder patches only the availability annotation fields. The sweep
// owns these; nothing else on the order is touched.
func (r *Repo) AnnotateOrder(ctx context.Context, orderID string, status AvailabilityStatus, conflicts []ConflictEntry, checkedAt time.Time) error {
	if conflicts == nil {
		conflicts = []ConflictEntry{}
	}
	b, err := json.Marshal(conflicts)
	if err != nil {
		return err
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET availability_status=$2, availability_conflicts=$3, last_availability_check=$4
		WHERE id=$1`, orderID, status, b, checkedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus moves an order along open -> under_inspection -> closed,
// rejecting anything the transition table disallows.
func (r *Repo) TransitionStatus(ctx context.Context, orderID string, to Status) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("cannot transition order %s from %s to %s", orderID, from, to)
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, to); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordInspection applies post-inspection stock corrections inside one
// transaction, locking each item row. Stock never goes below zero. Returns
// the old/new quantity per adjusted item so the caller can publish
// stock-updated events.
func (r *Repo) RecordInspection(ctx context.Context, orderID string, adjustments []StockAdjustment) ([]StockUpdatedPayload, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var out []StockUpdatedPayload
	for _, adj := range adjustments {
		var (
			name string
			qty  int
		)
		err := tx.QueryRow(ctx, `SELECT name, quantity FROM items WHERE id=$1 FOR UPDATE`, adj.ItemID).Scan(&name, &qty)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item not found: %s", adj.ItemID)
		}
		if err != nil {
			return nil, err
		}
		newQty := qty + adj.Delta
		if newQty < 0 {
			newQty = 0
		}
		if _, err := tx.Exec(ctx, `UPDATE items SET quantity=$2, updated_at=now() WHERE id=$1`, adj.ItemID, newQty); err != nil {
			return nil, err
		}
		out = append(out, StockUpdatedPayload{
			ItemID: adj.ItemID, Name: name,
			OldQuantity: qty, NewQuantity: newQty,
			Reason: "INSPECTION",
		})
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO inspections(order_id, adjustments, inspected_at)
		VALUES ($1, $2, now())`, orderID, mustJSON(adjustments)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateOrderLines replaces an order's lines after a manual edit. A manual
// edit resets the availability annotation to OK; the next sweep re-derives it.
func (r *Repo) UpdateOrderLines(ctx context.Context, orderID string, lines []OrderLine) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != StatusOpen {
		return fmt.Errorf("order %s is %s, lines can only change while open", orderID, status)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id=$1`, orderID); err != nil {
		return err
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue // zero/removed entries are dropped
		}
		if _, err := tx.Exec(ctx, `INSERT INTO order_lines(order_id, item_id, name, quantity)
		                           VALUES ($1,$2,$3,$4)`, orderID, l.ItemID, l.Name, l.Quantity); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET availability_status='OK', availability_conflicts='[]', updated_at=now()
		WHERE id=$1`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
