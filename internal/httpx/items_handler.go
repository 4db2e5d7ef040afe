package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/gmachhub/lending/internal/availability"
	kafkax "github.com/gmachhub/lending/internal/kafka"
	"github.com/gmachhub/lending/internal/lending"
)

type ItemsHandler struct {
	Repo          *lending.Repo
	ProducerStock *kafkax.Producer // gmach.stock.updated
	Redis         *redis.Client
	Service       string
}

type itemReq struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note,omitempty"`
}

func (h *ItemsHandler) Register(r *chi.Mux) {
	r.Get("/items", h.listItems)
	r.Post("/items", h.createItem)
	r.Put("/items/{id}", h.updateItem)
	r.Delete("/items/{id}", h.deleteItem)
	r.Get("/availability", h.queryAvailability)
	r.Get("/closed-days", h.listClosedDays)
	r.Post("/closed-days", h.addClosedDay)
	r.Delete("/closed-days/{date}", h.removeClosedDay)
}

func (h *ItemsHandler) listItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Repo.ListItems(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ItemsHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var req itemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Name == "" || req.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id, err := h.Repo.CreateItem(ctx, req.Name, req.Quantity, req.Note)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// updateItem patches the catalog entry. A stock change is what can turn an
// open order over-subscribed, so it publishes stock.updated for the sweeper.
func (h *ItemsHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	var req itemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	oldQty, err := h.Repo.UpdateItem(ctx, itemID, req.Name, req.Quantity, req.Note)
	if errors.Is(err, lending.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if oldQty != req.Quantity {
		publishStockUpdated(h.ProducerStock, h.Service, r.Header.Get("X-Request-Id"), lending.StockUpdatedPayload{
			ItemID: itemID, Name: req.Name,
			OldQuantity: oldQty, NewQuantity: req.Quantity,
			Reason: "MANUAL_EDIT",
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *ItemsHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	it, err := h.Repo.DeleteItem(ctx, itemID)
	if errors.Is(err, lending.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// open orders may still reference the item; its stock is now 0
	publishStockUpdated(h.ProducerStock, h.Service, r.Header.Get("X-Request-Id"), lending.StockUpdatedPayload{
		ItemID: it.ID, Name: it.Name,
		OldQuantity: it.Quantity, NewQuantity: 0,
		Reason: "DELETED",
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// queryAvailability answers "how many of item X are free between start and
// end". Missing dates fail open to full stock, the same policy the order
// form relies on while the user is still picking dates.
func (h *ItemsHandler) queryAvailability(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing item_id"})
		return
	}

	var rng availability.DateRange
	if s := r.URL.Query().Get("start"); s != "" {
		d, err := parseDate(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid start"})
			return
		}
		rng.Start = d
	}
	if s := r.URL.Query().Get("end"); s != "" {
		d, err := parseDate(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid end"})
			return
		}
		rng.End = d
	}
	if rng.Bounded() && rng.End.Before(rng.Start) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end before start"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	it, err := h.Repo.GetItem(ctx, itemID)
	if errors.Is(err, lending.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	open, err := h.Repo.ListOpenOrders(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	ref := availability.ItemRef{ID: it.ID, Name: it.Name}
	reserved := availability.ReservedQuantity(ref, rng, open, "")
	avail := availability.AvailableQuantity(it.Quantity, ref, rng, open, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":   it.ID,
		"name":      it.Name,
		"stock":     it.Quantity,
		"reserved":  reserved,
		"available": avail,
	})
}

func (h *ItemsHandler) listClosedDays(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	days, err := h.Repo.ListClosedDays(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	type dayJSON struct {
		Date   string `json:"date"`
		Reason string `json:"reason,omitempty"`
	}
	out := make([]dayJSON, 0, len(days))
	for _, d := range days {
		out = append(out, dayJSON{Date: d.Date.Format(dateLayout), Reason: d.Reason})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ItemsHandler) addClosedDay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date   string `json:"date"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	day, err := parseDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Repo.AddClosedDay(ctx, day, req.Reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"date": req.Date})
}

func (h *ItemsHandler) removeClosedDay(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Repo.RemoveClosedDay(ctx, day); err != nil {
		if errors.Is(err, lending.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func publishStockUpdated(p *kafkax.Producer, producer, trace string, payload lending.StockUpdatedPayload) {
	ev := lending.Envelope{
		EventID:       uuid.NewString(),
		EventType:     lending.EventStockUpdated,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       trace,
		CorrelationID: payload.ItemID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(lending.PartitionKey(payload.ItemID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(lending.EventStockUpdated)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
