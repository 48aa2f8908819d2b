package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/payment-ledger/internal/broker"
	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/observability"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPublishTimeout = 5 * time.Second
	defaultReplayLimit    = 100
)

var marshalPayload = json.Marshal

// DispatchResult counts what one dispatcher cycle did.
type DispatchResult struct {
	Processed int
	Sent      int
	Failed    int
	Skipped   int
}

// OutboxService writes TransactionCompleted events and drains them to the broker.
type OutboxService struct {
	store          QueryStore
	publisher      broker.Publisher
	audit          *AuditService
	publishTimeout time.Duration
}

func NewOutboxService(store QueryStore, publisher broker.Publisher) *OutboxService {
	return &OutboxService{
		store:          store,
		publisher:      publisher,
		audit:          NewAuditService(),
		publishTimeout: defaultPublishTimeout,
	}
}

// WithPublishTimeout bounds each publish attempt; an attempt that times out is a failure.
func (s *OutboxService) WithPublishTimeout(d time.Duration) *OutboxService {
	if d > 0 {
		s.publishTimeout = d
	}
	return s
}

// Enqueue writes a NEW TransactionCompleted event for tx inside the caller's unit of work.
func (s *OutboxService) Enqueue(ctx context.Context, q repository.Querier, tx models.Transaction) (models.OutboxEvent, error) {
	payload, err := marshalPayload(domain.TransactionCompletedPayload{
		ID:            tx.ID,
		Kind:          tx.Kind,
		FromAccountID: tx.FromAccountID,
		ToAccountID:   tx.ToAccountID,
		Amount:        domain.FormatAmount(tx.Amount),
		Status:        tx.Status,
		Timestamp:     tx.CreatedAt.UTC(),
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("%w: transaction %s: %w", domain.ErrEventSerialization, tx.ID, err)
	}

	return q.InsertOutboxEvent(ctx, repository.InsertOutboxEventParams{
		ID:           uuid.New(),
		AggregateID:  tx.ID,
		PartitionKey: domain.PartitionKey(tx.Kind, tx.FromAccountID, tx.ToAccountID),
		Type:         domain.EventTypeTransactionCompleted,
		Payload:      payload,
		Status:       domain.OutboxStatusNew,
	})
}

// LeaseRenewer keeps the dispatcher's exclusive lease alive during a cycle. Implemented by lock.Lease.
type LeaseRenewer interface {
	Extend(ctx context.Context) error
}

// ProcessOutboxEvents publishes up to batchSize NEW events, oldest first, and marks each SENT or FAILED.
// Events left NEW (cancellation, lost status update) are picked up again on the next cycle.
func (s *OutboxService) ProcessOutboxEvents(ctx context.Context, batchSize int32) (DispatchResult, error) {
	return s.ProcessOutboxEventsUnderLease(ctx, batchSize, nil)
}

// ProcessOutboxEventsUnderLease is ProcessOutboxEvents for a cycle guarded by a lease. The lease is
// extended before every event after the first, so a cycle may outlast one TTL; if an extension fails
// the cycle stops and the remaining events stay NEW for whoever holds the lease next.
//
// Events are published one at a time. The RabbitMQ publisher matches confirms by delivery tag on a
// single channel and serializes publishes anyway, and sequential publishing keeps events of one
// partition key in order. A stuck publish costs at most publishTimeout before the next event runs.
func (s *OutboxService) ProcessOutboxEventsUnderLease(ctx context.Context, batchSize int32, lease LeaseRenewer) (DispatchResult, error) {
	var result DispatchResult

	events, err := s.store.Queries().ListOutboxEventsByStatus(ctx, repository.ListOutboxEventsByStatusParams{
		Status: domain.OutboxStatusNew,
		Limit:  batchSize,
	})
	if err != nil {
		return result, fmt.Errorf("failed to fetch new outbox events: %w", err)
	}

	for i, event := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if lease != nil && i > 0 {
			if err := lease.Extend(ctx); err != nil {
				result.Skipped += len(events) - i
				return result, fmt.Errorf("renew dispatcher lease: %w", err)
			}
		}
		result.Processed++
		s.dispatch(ctx, event, &result)
	}

	s.reportPending(ctx)
	return result, nil
}

func (s *OutboxService) dispatch(ctx context.Context, event models.OutboxEvent, result *DispatchResult) {
	logFields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("transaction_id", event.AggregateID.String()),
		zap.String("partition_key", event.PartitionKey),
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	pubErr := s.publisher.Publish(pubCtx, broker.Message{
		ID:           event.ID,
		AggregateID:  event.AggregateID,
		PartitionKey: event.PartitionKey,
		Type:         event.Type,
		Payload:      event.Payload,
	})
	cancel()

	if pubErr != nil && ctx.Err() != nil {
		// Shutdown, not a channel failure: leave the event NEW.
		result.Skipped++
		zap.L().Warn("outbox publish interrupted", append(logFields, zap.Error(pubErr))...)
		return
	}

	next := domain.OutboxStatusSent
	if pubErr != nil {
		next = domain.OutboxStatusFailed
	}

	if err := transitionOutboxEvent(ctx, s.store.Queries(), nil, event.ID, domain.OutboxStatusNew, next, nil, ""); err != nil {
		result.Skipped++
		observability.IncrementOutboxEvent("status_update_failed")
		zap.L().Error("outbox status update failed", append(logFields, zap.String("status", string(next)), zap.Error(err))...)
		return
	}

	if pubErr != nil {
		result.Failed++
		observability.IncrementOutboxEvent("failed")
		zap.L().Error("outbox event publish failed",
			append(logFields, zap.Error(fmt.Errorf("%w: %w", domain.ErrPublishFailure, pubErr)))...)
		return
	}

	result.Sent++
	observability.IncrementOutboxEvent("sent")
	zap.L().Debug("outbox event sent", logFields...)
}

func (s *OutboxService) reportPending(ctx context.Context) {
	q := s.store.Queries()
	now := time.Now().Add(time.Second)
	if pending, err := q.CountOutboxEventsOlderThan(ctx, domain.OutboxStatusNew, now); err == nil {
		observability.SetOutboxEvents(string(domain.OutboxStatusNew), pending)
	}
	if failed, err := q.CountOutboxEventsOlderThan(ctx, domain.OutboxStatusFailed, now); err == nil {
		observability.SetOutboxEvents(string(domain.OutboxStatusFailed), failed)
	}
}

// ListByStatus returns up to limit events with status, oldest first.
func (s *OutboxService) ListByStatus(ctx context.Context, status domain.OutboxStatus, limit int32) ([]models.OutboxEvent, error) {
	if limit <= 0 || limit > defaultReplayLimit {
		limit = defaultReplayLimit
	}
	return s.store.Queries().ListOutboxEventsByStatus(ctx, repository.ListOutboxEventsByStatusParams{
		Status: status,
		Limit:  limit,
	})
}

// EventsForTransaction returns the events recorded for one transaction.
func (s *OutboxService) EventsForTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.OutboxEvent, error) {
	return s.store.Queries().ListOutboxEventsByAggregate(ctx, transactionID)
}

// ReplayRequest selects FAILED events to return to NEW. Empty IDs means the oldest Limit failed events.
type ReplayRequest struct {
	IDs     []uuid.UUID
	Limit   int32
	ActorID string
}

var ErrNothingToReplay = errors.New("no failed outbox events to replay")

// ReplayFailed moves FAILED events back to NEW in one unit of work and audits each move.
// Failed events are never retried automatically; this is the operator's way to re-attempt them.
func (s *OutboxService) ReplayFailed(ctx context.Context, req ReplayRequest) ([]uuid.UUID, error) {
	var replayed []uuid.UUID
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		ids := req.IDs
		if len(ids) == 0 {
			limit := req.Limit
			if limit <= 0 || limit > defaultReplayLimit {
				limit = defaultReplayLimit
			}
			failed, err := q.ListOutboxEventsByStatus(ctx, repository.ListOutboxEventsByStatusParams{
				Status: domain.OutboxStatusFailed,
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("list failed outbox events: %w", err)
			}
			for _, e := range failed {
				ids = append(ids, e.ID)
			}
		}
		if len(ids) == 0 {
			return ErrNothingToReplay
		}

		actor := textParam(req.ActorID)
		for _, id := range ids {
			if err := transitionOutboxEvent(ctx, q, s.audit, id, domain.OutboxStatusFailed, domain.OutboxStatusNew, actor, "replay"); err != nil {
				return fmt.Errorf("%w: replay outbox event %s: %w", domain.ErrInvalidStateTransition, id, err)
			}
		}
		replayed = ids
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.AddOutboxReplays(len(replayed))
	zap.L().Info("outbox events replayed", zap.Int("count", len(replayed)), zap.String("actor_id", req.ActorID))
	return replayed, nil
}
