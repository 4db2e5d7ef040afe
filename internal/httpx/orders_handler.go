package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/gmachhub/lending/internal/availability"
	kafkax "github.com/gmachhub/lending/internal/kafka"
	"github.com/gmachhub/lending/internal/lending"
	"github.com/gmachhub/lending/internal/redisx"
)

type OrdersHandler struct {
	Repo           *lending.Repo
	Checker        *availability.Checker
	ProducerCreate *kafkax.Producer // loan.order.created
	ProducerClose  *kafkax.Producer // loan.order.closed
	ProducerStock  *kafkax.Producer // gmach.stock.updated (inspection corrections)
	Redis          *redis.Client
	Service        string
}

type CreateOrderReq struct {
	ExternalID string              `json:"external_id"`
	Borrower   string              `json:"borrower"`
	PickupDate string              `json:"pickup_date"` // YYYY-MM-DD
	ReturnDate string              `json:"return_date"`
	Items      []lending.OrderLine `json:"items"`
}

type CreateOrderResp struct {
	OrderID    string `json:"order_id"`
	Idempotent bool   `json:"idempotent"`
}

type shortageDetail struct {
	ItemID    string `json:"item_id"`
	ItemName  string `json:"item_name"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
	Message   string `json:"message"`
}

type inspectReq struct {
	Adjustments []lending.StockAdjustment `json:"adjustments"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Put("/orders/{id}/items", h.updateOrderLines)
	r.Post("/orders/{id}/inspect", h.inspectOrder)
	r.Post("/orders/{id}/close", h.closeOrder)
	r.Post("/availability/recheck", h.recheck)
	r.Get("/availability/last-sweep", h.lastSweep)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ExternalID == "" || req.Borrower == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	pickup, err := parseDate(req.PickupDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pickup_date"})
		return
	}
	ret, err := parseDate(req.ReturnDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid return_date"})
		return
	}
	if ret.Before(pickup) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "return_date before pickup_date"})
		return
	}

	// zero/removed entries are dropped before anything looks at them
	lines := make([]lending.OrderLine, 0, len(req.Items))
	for _, l := range req.Items {
		if l.Quantity > 0 {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no items with positive quantity"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast-path idempotency via Redis: a known external_id is a replay,
	// skip the availability check and answer with the original order id.
	// The DB unique constraint remains the source of truth on a miss.
	idemKey := fmt.Sprintf(redisx.KeyIdemLoanCreate, req.ExternalID)
	if id, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && id != "" {
		writeJSON(w, http.StatusAccepted, CreateOrderResp{OrderID: id, Idempotent: true})
		return
	}

	for _, d := range []time.Time{pickup, ret} {
		closed, err := h.Repo.IsClosedDay(ctx, d)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if closed {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": fmt.Sprintf("the gmach is closed on %s", d.Format(dateLayout)),
			})
			return
		}
	}

	// creation-time availability check: reject over-selection up front.
	// A later sweep still catches races between two creations.
	shortages, err := h.checkLines(ctx, pickup, ret, lines)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(shortages) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "insufficient availability",
			"details": shortages,
		})
		return
	}

	orderID, existed, err := h.Repo.CreateOrderTx(ctx, req.ExternalID, req.Borrower, pickup, ret, lines)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	_ = h.Redis.Set(ctx, idemKey, orderID, redisx.TTLIdempotency).Err()
	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, `{"status":"open"}`, redisx.TTLStatusCache).Err()

	ev := lending.Envelope{
		EventID:       uuid.NewString(),
		EventType:     lending.EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(lending.OrderCreatedPayload{
			OrderID:    orderID,
			ExternalID: req.ExternalID,
			Borrower:   req.Borrower,
			PickupDate: pickup.Format(dateLayout),
			ReturnDate: ret.Format(dateLayout),
			Lines:      lines,
		}),
	}
	h.ProducerCreate.Publish(lending.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(lending.EventOrderCreated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)

	writeJSON(w, http.StatusAccepted, CreateOrderResp{OrderID: orderID, Idempotent: existed})
}

// checkLines computes available-to-promise for every requested line against
// current stock and the other open orders.
func (h *OrdersHandler) checkLines(ctx context.Context, pickup, ret time.Time, lines []lending.OrderLine) ([]shortageDetail, error) {
	items, err := h.Repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	open, err := h.Repo.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	stock := make(map[string]lending.Item, len(items))
	for _, it := range items {
		stock[it.ID] = it
	}

	rng := availability.NewDateRange(pickup, ret)
	var out []shortageDetail
	for _, l := range lines {
		it, ok := stock[l.ItemID]
		if !ok {
			out = append(out, shortageDetail{
				ItemID: l.ItemID, ItemName: l.Name,
				Required: l.Quantity, Available: 0,
				Message: fmt.Sprintf("%d needed, only 0 available", l.Quantity),
			})
			continue
		}
		avail := availability.AvailableQuantity(it.Quantity,
			availability.ItemRef{ID: it.ID, Name: it.Name}, rng, open, "")
		if l.Quantity > avail {
			out = append(out, shortageDetail{
				ItemID: it.ID, ItemName: it.Name,
				Required: l.Quantity, Available: avail,
				Message: fmt.Sprintf("%d needed, only %d available", l.Quantity, avail),
			})
		}
	}
	return out, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.GetOrder(ctx, orderID)
	if errors.Is(err, lending.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, orderView(o))
}

// getOrderStatus serves the lightweight status poll from the Redis cache,
// falling back to the DB and refilling the cache on a miss.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	status, err := h.Repo.GetOrderStatus(ctx, orderID)
	if errors.Is(err, lending.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	b, _ := json.Marshal(map[string]any{"status": status})
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}

// updateOrderLines replaces the items on an open order. The manual edit
// resets the availability annotation; the next sweep re-derives it.
func (h *OrdersHandler) updateOrderLines(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var body struct {
		Items []lending.OrderLine `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Repo.UpdateOrderLines(ctx, orderID, body.Items); err != nil {
		if errors.Is(err, lending.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// inspectOrder moves an open order to under_inspection and applies any
// stock corrections found during the return inspection.
func (h *OrdersHandler) inspectOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req inspectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Repo.TransitionStatus(ctx, orderID, lending.StatusUnderInspection); err != nil {
		if errors.Is(err, lending.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	if len(req.Adjustments) > 0 {
		updates, err := h.Repo.RecordInspection(ctx, orderID, req.Adjustments)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		trace := r.Header.Get("X-Request-Id")
		for _, u := range updates {
			publishStockUpdated(h.ProducerStock, h.Service, trace, u)
		}
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, `{"status":"under_inspection"}`, redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(lending.StatusUnderInspection)})
}

// closeOrder finishes the lifecycle, from under_inspection or straight from
// open when no inspection was needed. It publishes the closure event, then
// immediately re-checks the remaining open orders and hands any remaining
// conflicts back for the UI to surface.
func (h *OrdersHandler) closeOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Repo.TransitionStatus(ctx, orderID, lending.StatusClosed); err != nil {
		if errors.Is(err, lending.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, `{"status":"closed"}`, redisx.TTLStatusCache).Err()

	ev := lending.Envelope{
		EventID:       uuid.NewString(),
		EventType:     lending.EventOrderClosed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(lending.OrderClosedPayload{
			OrderID: orderID, ClosedAt: time.Now().UTC(),
		}),
	}
	h.ProducerClose.Publish(lending.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(lending.EventOrderClosed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)

	report, err := h.Checker.RunAfterOrderClosure(ctx, orderID)
	if err != nil {
		// the order did close; report that, with the recheck error attached
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        string(lending.StatusClosed),
			"recheck_error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       string(lending.StatusClosed),
		"should_alert": report.ShouldAlert,
		"conflicts":    report.Conflicts,
		"message":      report.Message,
	})
}

// recheck is the admin-triggered full sweep.
func (h *OrdersHandler) recheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sum, err := h.Checker.CheckAllActiveOrders(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if b, err := json.Marshal(sum); err == nil {
		_ = h.Redis.Set(ctx, redisx.KeySweepSummary, b, redisx.TTLSweepSummary).Err()
	}
	writeJSON(w, http.StatusOK, sum)
}

// lastSweep returns the most recent sweep summary, whichever of the admin
// recheck or the background sweeper wrote it last.
func (h *OrdersHandler) lastSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Redis.Get(ctx, redisx.KeySweepSummary).Result()
	if err != nil || s == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no sweep recorded"})
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(s))
}

type orderJSON struct {
	ID                    string                  `json:"id"`
	ExternalID            string                  `json:"external_id"`
	Borrower              string                  `json:"borrower"`
	Status                lending.Status          `json:"status"`
	PickupDate            string                  `json:"pickup_date"`
	ReturnDate            string                  `json:"return_date"`
	Items                 []lending.OrderLine     `json:"items"`
	AvailabilityStatus    string                  `json:"availability_status"`
	AvailabilityConflicts []lending.ConflictEntry `json:"availability_conflicts"`
}

func orderView(o lending.Order) orderJSON {
	conflicts := o.AvailabilityConflicts
	if conflicts == nil {
		conflicts = []lending.ConflictEntry{}
	}
	status := string(o.AvailabilityStatus)
	if status == "" {
		status = string(lending.AvailabilityOK)
	}
	return orderJSON{
		ID:                    o.ID,
		ExternalID:            o.ExternalID,
		Borrower:              o.Borrower,
		Status:                o.Status,
		PickupDate:            o.PickupDate.Format(dateLayout),
		ReturnDate:            o.ReturnDate.Format(dateLayout),
		Items:                 o.Lines,
		AvailabilityStatus:    status,
		AvailabilityConflicts: conflicts,
	}
}
