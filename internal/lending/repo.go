package lending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var (
	ErrAlreadyExists = errors.New("order already exists")
	ErrNotFound      = errors.New("not found")
)

func (r *Repo) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, quantity, note, created_at, updated_at
	                              FROM items ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &it.Note, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) GetItem(ctx context.Context, itemID string) (Item, error) {
	var it Item
	err := r.DB.QueryRow(ctx, `SELECT id, name, quantity, note, created_at, updated_at
	                           FROM items WHERE id=$1`, itemID).
		Scan(&it.ID, &it.Name, &it.Quantity, &it.Note, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func (r *Repo) CreateItem(ctx context.Context, name string, quantity int, note string) (string, error) {
	if quantity < 0 {
		return "", fmt.Errorf("invalid quantity %d", quantity)
	}
	id := uuid.NewString()
	_, err := r.DB.Exec(ctx, `INSERT INTO items(id, name, quantity, note)
	                          VALUES ($1,$2,$3,$4)`, id, name, quantity, note)
	return id, err
}

// UpdateItem patches name/quantity/note and returns the previous quantity so
// the caller can publish a stock-updated event when it changed.
func (r *Repo) UpdateItem(ctx context.Context, itemID, name string, quantity int, note string) (oldQuantity int, err error) {
	if quantity < 0 {
		return 0, fmt.Errorf("invalid quantity %d", quantity)
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `SELECT quantity FROM items WHERE id=$1 FOR UPDATE`, itemID).Scan(&oldQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if _, err = tx.Exec(ctx, `UPDATE items SET name=$2, quantity=$3, note=$4, updated_at=now()
	                          WHERE id=$1`, itemID, name, quantity, note); err != nil {
		return 0, err
	}
	return oldQuantity, tx.Commit(ctx)
}

func (r *Repo) DeleteItem(ctx context.Context, itemID string) (Item, error) {
	var it Item
	err := r.DB.QueryRow(ctx, `DELETE FROM items WHERE id=$1
	                           RETURNING id, name, quantity, note, created_at, updated_at`, itemID).
		Scan(&it.ID, &it.Name, &it.Quantity, &it.Note, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

// CreateOrderTx is idempotent via external_id: if the external id is already
// known, the existing order id is returned with existed=true. At least one
// line is required; lines with quantity <= 0 are rejected and every line
// must reference a known item.
func (r *Repo) CreateOrderTx(ctx context.Context, externalID, borrower string, pickup, ret time.Time, lines []OrderLine) (orderID string, existed bool, err error) {
	if len(lines) == 0 {
		return "", false, errors.New("order needs at least one line")
	}

	row := r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE external_id=$1`, externalID)
	if err = row.Scan(&orderID); err == nil {
		return orderID, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// resolve item names from the items table (don't trust the client copy)
	itemIDs := make([]any, 0, len(lines))
	params := ""
	for i, l := range lines {
		if i > 0 {
			params += ","
		}
		params += fmt.Sprintf("$%d", i+1)
		itemIDs = append(itemIDs, l.ItemID)
	}
	rows, err := tx.Query(ctx, `SELECT id, name FROM items WHERE id IN (`+params+`)`, itemIDs...)
	if err != nil {
		return "", false, err
	}
	names := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return "", false, err
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}

	for _, l := range lines {
		if _, ok := names[l.ItemID]; !ok {
			return "", false, fmt.Errorf("item not found: %s", l.ItemID)
		}
		if l.Quantity <= 0 {
			return "", false, fmt.Errorf("invalid quantity for item %s", l.ItemID)
		}
	}

	orderID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, borrower, status, pickup_date, return_date)
		VALUES ($1, $2, $3, 'open', $4, $5)
	`, orderID, externalID, borrower, pickup, ret)
	if err != nil {
		return "", false, err
	}

	for _, l := range lines {
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, item_id, name, quantity)
			VALUES ($1, $2, $3, $4)`,
			orderID, l.ItemID, names[l.ItemID], l.Quantity,
		); err != nil {
			return "", false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return orderID, false, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var (
		o         Order
		conflicts []byte
		lastCheck *time.Time
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, borrower, status, pickup_date, return_date,
		       availability_status, availability_conflicts, last_availability_check,
		       created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.ExternalID, &o.Borrower, &o.Status, &o.PickupDate, &o.ReturnDate,
			&o.AvailabilityStatus, &conflicts, &lastCheck, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if lastCheck != nil {
		o.LastAvailabilityCheck = *lastCheck
	}
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &o.AvailabilityConflicts); err != nil {
			return Order{}, fmt.Errorf("decode conflicts for order %s: %w", o.ID, err)
		}
	}

	rows, err := r.DB.Query(ctx, `SELECT item_id, name, quantity FROM order_lines WHERE order_id=$1`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ItemID, &l.Name, &l.Quantity); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s Status
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return s, err
}

// ListOpenOrders returns every order with status 'open', lines included.
// These are the orders that reserve inventory.
func (r *Repo) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, external_id, borrower, status, pickup_date, return_date,
		       availability_status, availability_conflicts, last_availability_check,
		       created_at, updated_at
		FROM orders WHERE status='open' ORDER BY pickup_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	index := map[string]int{}
	for rows.Next() {
		var (
			o         Order
			conflicts []byte
			lastCheck *time.Time
		)
		if err := rows.Scan(&o.ID, &o.ExternalID, &o.Borrower, &o.Status, &o.PickupDate, &o.ReturnDate,
			&o.AvailabilityStatus, &conflicts, &lastCheck, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		if lastCheck != nil {
			o.LastAvailabilityCheck = *lastCheck
		}
		if len(conflicts) > 0 {
			if err := json.Unmarshal(conflicts, &o.AvailabilityConflicts); err != nil {
				return nil, fmt.Errorf("decode conflicts for order %s: %w", o.ID, err)
			}
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	lrows, err := r.DB.Query(ctx, `
		SELECT l.order_id, l.item_id, l.name, l.quantity
		FROM order_lines l JOIN orders o ON o.id = l.order_id
		WHERE o.status='open'`)
	if err != nil {
		return nil, err
	}
	defer lrows.Close()
	for lrows.Next() {
		var (
			oid string
			l   OrderLine
		)
		if err := lrows.Scan(&oid, &l.ItemID, &l.Name, &l.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[oid]; ok {
			out[i].Lines = append(out[i].Lines, l)
		}
	}
	return out, lrows.Err()
}

func (r *Repo) ListClosedDays(ctx context.Context) ([]ClosedDay, error) {
	rows, err := r.DB.Query(ctx, `SELECT day, reason FROM closed_days ORDER BY day`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClosedDay
	for rows.Next() {
		var d ClosedDay
		if err := rows.Scan(&d.Date, &d.Reason); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repo) AddClosedDay(ctx context.Context, day time.Time, reason string) error {
	_, err := r.DB.Exec(ctx, `INSERT INTO closed_days(day, reason) VALUES ($1,$2)
	                          ON CONFLICT (day) DO UPDATE SET reason=EXCLUDED.reason`, day, reason)
	return err
}

func (r *Repo) RemoveClosedDay(ctx context.Context, day time.Time) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM closed_days WHERE day=$1`, day)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) IsClosedDay(ctx context.Context, day time.Time) (bool, error) {
	var n int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM closed_days WHERE day=$1`, day).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
