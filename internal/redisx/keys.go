package redisx

import "time"

const (
	// Idempotency for loan creation: idem:loan:create:{external_id} -> order_id
	KeyIdemLoanCreate = "idem:loan:create:%s"

	// Cache of an order's status: loan_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "loan_status:%s"

	// Dedup for event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Last sweep summary (JSON), for the admin dashboard
	KeySweepSummary = "availability:last_sweep"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLStatusCache  = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
	TTLSweepSummary = 24 * time.Hour
)
