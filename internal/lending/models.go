package lending

import "time"

type Item struct {
	ID        string
	Name      string
	Quantity  int // total stock on hand
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderLine is one reserved item on a loan order. ItemID is the stable key;
// Name is kept for display and as a fallback for rows written before item
// ids were stored on lines.
type OrderLine struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// ConflictEntry describes one over-subscribed line on an order.
type ConflictEntry struct {
	ItemName string `json:"item_name"`
	Message  string `json:"message"`
}

type Order struct {
	ID         string
	ExternalID string
	Borrower   string
	Status     Status // see status.go
	PickupDate time.Time
	ReturnDate time.Time // inclusive; returnDate >= pickupDate enforced at intake
	Lines      []OrderLine

	// Availability annotation, maintained by the sweep. Advisory only:
	// recomputed on every sweep, cleared when a human edits the lines.
	AvailabilityStatus    AvailabilityStatus
	AvailabilityConflicts []ConflictEntry
	LastAvailabilityCheck time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClosedDay is a calendar day on which no pickups or returns happen.
type ClosedDay struct {
	Date   time.Time
	Reason string
}

// StockAdjustment records a post-inspection correction to an item's stock
// (negative delta for damaged or lost units).
type StockAdjustment struct {
	ItemID string `json:"item_id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}
