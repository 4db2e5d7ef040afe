package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/gmachhub/lending/internal/availability"
	kafkax "github.com/gmachhub/lending/internal/kafka"
	"github.com/gmachhub/lending/internal/lending"
	"github.com/gmachhub/lending/internal/redisx"
)

// Service reacts to stock and order-lifecycle events by re-running the
// availability sweep and publishing what changed.
type Service struct {
	Checker          *availability.Checker
	Redis            *redis.Client
	ProducerConflict *kafkax.Producer // publish gmach.availability.conflict
	ProducerResolved *kafkax.Producer // publish gmach.availability.resolved
	ServiceName      string
}

// HandleStockUpdated: consumer handler for gmach.stock.updated.
func (s *Service) HandleStockUpdated(ctx context.Context, m kafkago.Message) error {
	var env lending.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != lending.EventStockUpdated {
		return nil // ignore
	}
	if s.seen(ctx, env.EventID) {
		return nil
	}

	p, err := kafkax.UnwrapPayload[lending.StockUpdatedPayload](env.Payload)
	if err != nil {
		return err
	}
	log.Printf("sweep: stock updated for %s (%d -> %d), rechecking", p.ItemID, p.OldQuantity, p.NewQuantity)
	return s.runSweep(ctx, env.TraceID)
}

// HandleOrderClosed: consumer handler for loan.order.closed. The closure
// releases the order's reservations, so remaining orders may resolve. The
// order is already status=closed by the time the event is published, so a
// plain sweep sees the right set of open orders.
func (s *Service) HandleOrderClosed(ctx context.Context, m kafkago.Message) error {
	var env lending.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != lending.EventOrderClosed {
		return nil
	}
	if s.seen(ctx, env.EventID) {
		return nil
	}

	p, err := kafkax.UnwrapPayload[lending.OrderClosedPayload](env.Payload)
	if err != nil {
		return err
	}
	log.Printf("sweep: order %s closed, rechecking remaining open orders", p.OrderID)
	return s.runSweep(ctx, env.TraceID)
}

// seen dedups by event id via Redis. Errors are treated as "not seen":
// worst case a sweep runs twice, which is harmless.
func (s *Service) seen(ctx context.Context, eventID string) bool {
	key := fmt.Sprintf(redisx.KeyDedup, "sweep", eventID)
	exists, _ := redisx.Exists(ctx, s.Redis, key)
	if exists {
		return true
	}
	_ = s.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err()
	return false
}

func (s *Service) runSweep(ctx context.Context, trace string) error {
	sum, err := s.Checker.CheckAllActiveOrders(ctx)
	if err != nil {
		return err
	}
	s.cacheSummary(ctx, sum)
	s.publishSummary(ctx, sum, trace)
	return nil
}

func (s *Service) cacheSummary(ctx context.Context, sum availability.Summary) {
	b, err := json.Marshal(sum)
	if err != nil {
		return
	}
	_ = s.Redis.Set(ctx, redisx.KeySweepSummary, b, redisx.TTLSweepSummary).Err()
}

func (s *Service) publishSummary(ctx context.Context, sum availability.Summary, trace string) {
	for _, oc := range sum.NewlyConflicted {
		ev := lending.Envelope{
			EventID:       uuid.NewString(),
			EventType:     lending.EventAvailabilityConflict,
			EventVersion:  1,
			OccurredAt:    time.Now().UTC(),
			Producer:      s.ServiceName,
			TraceID:       trace,
			CorrelationID: oc.OrderID,
			Payload: kafkax.MustMarshal(lending.AvailabilityConflictPayload{
				OrderID: oc.OrderID, Conflicts: oc.Conflicts,
			}),
		}
		s.ProducerConflict.Publish(lending.PartitionKey(oc.OrderID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: "x-event-type", Value: []byte(lending.EventAvailabilityConflict)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}
	for _, orderID := range sum.Resolved {
		ev := lending.Envelope{
			EventID:       uuid.NewString(),
			EventType:     lending.EventAvailabilityResolved,
			EventVersion:  1,
			OccurredAt:    time.Now().UTC(),
			Producer:      s.ServiceName,
			TraceID:       trace,
			CorrelationID: orderID,
			Payload:       kafkax.MustMarshal(lending.AvailabilityResolvedPayload{OrderID: orderID}),
		}
		s.ProducerResolved.Publish(lending.PartitionKey(orderID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: "x-event-type", Value: []byte(lending.EventAvailabilityResolved)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}
}
