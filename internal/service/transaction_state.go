package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/google/uuid"
)

var transactionTransitions = map[domain.TransactionStatus]map[domain.TransactionStatus]struct{}{
	domain.TxStatusCreated: {
		domain.TxStatusCompleted: {},
		domain.TxStatusFailed:    {},
	},
	domain.TxStatusCompleted: {},
	domain.TxStatusFailed:    {},
}

// FAILED -> NEW exists only for operator replay; the dispatcher never takes it.
var outboxTransitions = map[domain.OutboxStatus]map[domain.OutboxStatus]struct{}{
	domain.OutboxStatusNew: {
		domain.OutboxStatusSent:   {},
		domain.OutboxStatusFailed: {},
	},
	domain.OutboxStatusSent: {},
	domain.OutboxStatusFailed: {
		domain.OutboxStatusNew: {},
	},
}

func canTransition[S ~string](transitions map[S]map[S]struct{}, current, next S) bool {
	nextStates, ok := transitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func transitionTransaction(t *models.Transaction, next domain.TransactionStatus) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidStateTransition, t.ID, t.Status)
	}
	if !canTransition(transactionTransitions, t.Status, next) {
		return fmt.Errorf("%w: transaction %s -> %s", domain.ErrInvalidStateTransition, t.Status, next)
	}
	t.Status = next
	return nil
}

// transitionOutboxEvent moves one event from current to next with a guarded update. audit may be nil.
func transitionOutboxEvent(ctx context.Context, q repository.Querier, audit *AuditService, eventID uuid.UUID, current, next domain.OutboxStatus, actorID *string, action string) error {
	if !canTransition(outboxTransitions, current, next) {
		return fmt.Errorf("%w: outbox event %s -> %s", domain.ErrInvalidStateTransition, current, next)
	}

	rows, err := q.UpdateOutboxEventStatus(ctx, repository.UpdateOutboxEventStatusParams{
		ID:         eventID,
		FromStatus: current,
		Status:     next,
	})
	if err != nil {
		return fmt.Errorf("update outbox event state: %w", err)
	}
	if err := requireExactlyOne(rows, "update outbox event state"); err != nil {
		return err
	}

	if audit == nil {
		return nil
	}
	return audit.Write(ctx, q, "outbox_event", eventID.String(), actorID, action, string(current), string(next), nil)
}
