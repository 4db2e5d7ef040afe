package lending

type Status string

const (
	StatusOpen            Status = "open"
	StatusUnderInspection Status = "under_inspection"
	StatusClosed          Status = "closed"
)

// Inspection is optional: an order whose items come back undamaged may
// close straight from open, skipping under_inspection.
var validNext = map[Status]map[Status]bool{
	StatusOpen:            {StatusUnderInspection: true, StatusClosed: true},
	StatusUnderInspection: {StatusClosed: true},
	StatusClosed:          {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// AvailabilityStatus is the sweep's annotation on an order.
type AvailabilityStatus string

const (
	AvailabilityOK       AvailabilityStatus = "OK"
	AvailabilityConflict AvailabilityStatus = "CONFLICT"
)
