package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/google/uuid"
)

// TransactionCommand is a validated request plus the caller's idempotency key.
type TransactionCommand struct {
	Request        domain.CreateTransactionRequest
	IdempotencyKey string
}

// Strategy executes the balance movement for one transaction kind and records the completed transaction.
// Execute runs inside the caller's unit of work; any error must leave nothing for the caller to commit.
type Strategy interface {
	Kind() domain.TransactionKind
	Execute(ctx context.Context, q repository.Querier, cmd TransactionCommand) (models.Transaction, error)
}

// StrategyDispatcher resolves a strategy by kind from a table built once at startup.
type StrategyDispatcher struct {
	strategies map[domain.TransactionKind]Strategy
}

// NewStrategyDispatcher registers strategies; a later strategy for the same kind replaces an earlier one.
func NewStrategyDispatcher(strategies ...Strategy) *StrategyDispatcher {
	table := make(map[domain.TransactionKind]Strategy, len(strategies))
	for _, s := range strategies {
		table[s.Kind()] = s
	}
	return &StrategyDispatcher{strategies: table}
}

// DefaultStrategies returns the debit, credit and internal transfer strategies.
func DefaultStrategies() []Strategy {
	return []Strategy{DebitStrategy{}, CreditStrategy{}, TransferStrategy{}}
}

func (d *StrategyDispatcher) Dispatch(kind domain.TransactionKind) (Strategy, error) {
	s, ok := d.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, kind)
	}
	return s, nil
}

// recordCompleted drives a fresh transaction from CREATED to COMPLETED and inserts it.
func recordCompleted(ctx context.Context, q repository.Querier, cmd TransactionCommand, from, to *string) (models.Transaction, error) {
	tx := models.Transaction{
		ID:             uuid.New(),
		Kind:           cmd.Request.Kind,
		FromAccountID:  from,
		ToAccountID:    to,
		Amount:         domain.NormalizeAmount(cmd.Request.Amount),
		Status:         domain.TxStatusCreated,
		IdempotencyKey: cmd.IdempotencyKey,
	}
	if err := transitionTransaction(&tx, domain.TxStatusCompleted); err != nil {
		return models.Transaction{}, err
	}

	return q.InsertTransaction(ctx, repository.InsertTransactionParams{
		ID:             tx.ID,
		Kind:           tx.Kind,
		FromAccountID:  tx.FromAccountID,
		ToAccountID:    tx.ToAccountID,
		Amount:         tx.Amount,
		Status:         tx.Status,
		IdempotencyKey: tx.IdempotencyKey,
	})
}
