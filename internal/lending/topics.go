package lending

const (
	TopicOrderCreated         = "loan.order.created"
	TopicOrderClosed          = "loan.order.closed"
	TopicStockUpdated         = "gmach.stock.updated"
	TopicAvailabilityConflict = "gmach.availability.conflict"
	TopicAvailabilityResolved = "gmach.availability.resolved"
)

// Partition key = order_id (or item_id for stock updates) so every event
// for one entity keeps its ordering.
func PartitionKey(id string) []byte { return []byte(id) }
