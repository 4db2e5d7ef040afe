package lending

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated         = "LoanOrderCreated"
	EventOrderClosed          = "LoanOrderClosed"
	EventStockUpdated         = "StockUpdated"
	EventAvailabilityConflict = "AvailabilityConflict"
	EventAvailabilityResolved = "AvailabilityResolved"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "gmach-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- per-event payloads ----

type OrderCreatedPayload struct {
	OrderID    string      `json:"order_id"`
	ExternalID string      `json:"external_id"`
	Borrower   string      `json:"borrower"`
	PickupDate string      `json:"pickup_date"` // YYYY-MM-DD
	ReturnDate string      `json:"return_date"`
	Lines      []OrderLine `json:"lines"`
}

type OrderClosedPayload struct {
	OrderID  string    `json:"order_id"`
	ClosedAt time.Time `json:"closed_at"`
}

type StockUpdatedPayload struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	OldQuantity int    `json:"old_quantity"`
	NewQuantity int    `json:"new_quantity"`
	Reason      string `json:"reason,omitempty"` // e.g., INSPECTION, MANUAL_EDIT, DELETED
}

type AvailabilityConflictPayload struct {
	OrderID   string          `json:"order_id"`
	Conflicts []ConflictEntry `json:"conflicts"`
}

type AvailabilityResolvedPayload struct {
	OrderID string `json:"order_id"`
}
