package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/models"
	"github.com/ayo6706/payment-ledger/internal/observability"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"go.uber.org/zap"
)

// TransactionEngine runs transaction creation as one unit of work:
// idempotency check, strategy execution, outbox enqueue, commit.
type TransactionEngine struct {
	store      QueryStore
	guard      *IdempotencyGuard
	dispatcher *StrategyDispatcher
	outbox     *OutboxService
}

func NewTransactionEngine(store QueryStore, guard *IdempotencyGuard, dispatcher *StrategyDispatcher, outbox *OutboxService) *TransactionEngine {
	return &TransactionEngine{
		store:      store,
		guard:      guard,
		dispatcher: dispatcher,
		outbox:     outbox,
	}
}

// CreateTransaction returns the completed transaction, or one of ErrAccountNotFound,
// ErrInsufficientFunds, ErrIdempotencyConflict, ErrInvalidRequest. On error nothing is committed.
func (e *TransactionEngine) CreateTransaction(ctx context.Context, idempotencyKey string, req domain.CreateTransactionRequest) (*models.Transaction, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", domain.ErrInvalidRequest)
	}
	req.FromAccountID = strings.TrimSpace(req.FromAccountID)
	req.ToAccountID = strings.TrimSpace(req.ToAccountID)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Amount = domain.NormalizeAmount(req.Amount)

	strategy, err := e.dispatcher.Dispatch(req.Kind)
	if err != nil {
		return nil, err
	}

	cmd := TransactionCommand{Request: req, IdempotencyKey: key}
	var created models.Transaction
	err = e.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := e.guard.CheckAndReserve(ctx, q, key); err != nil {
			return err
		}

		tx, err := strategy.Execute(ctx, q, cmd)
		if err != nil {
			return err
		}

		if _, err := e.outbox.Enqueue(ctx, q, tx); err != nil {
			return err
		}
		created = tx
		return nil
	})
	if err != nil {
		err = e.guard.Resolve(err)
		e.logFailure(err, key, req)
		return nil, err
	}

	e.guard.Remember(ctx, key, created.ID)
	observability.IncrementTransaction(string(req.Kind), "completed")
	zap.L().Info("transaction completed",
		zap.String("transaction_id", created.ID.String()),
		zap.String("idempotency_key", key),
		zap.String("kind", string(created.Kind)),
		zap.String("amount", domain.FormatAmount(created.Amount)),
	)
	return &created, nil
}

func (e *TransactionEngine) logFailure(err error, key string, req domain.CreateTransactionRequest) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("idempotency_key", key),
		zap.String("kind", string(req.Kind)),
	}
	switch {
	case errors.Is(err, domain.ErrIdempotencyConflict):
		observability.IncrementTransaction(string(req.Kind), "idempotency_conflict")
		zap.L().Warn("transaction rejected", fields...)
	case errors.Is(err, domain.ErrAccountNotFound):
		observability.IncrementTransaction(string(req.Kind), "account_not_found")
		zap.L().Info("transaction rejected", fields...)
	case errors.Is(err, domain.ErrInsufficientFunds):
		observability.IncrementTransaction(string(req.Kind), "insufficient_funds")
		zap.L().Info("transaction rejected", fields...)
	default:
		observability.IncrementTransaction(string(req.Kind), "error")
		zap.L().Error("transaction failed", fields...)
	}
}

// GetHistory returns one page of the account's transactions, newest first.
// An empty page for an unknown account is reported as ErrAccountNotFound.
func (e *TransactionEngine) GetHistory(ctx context.Context, accountID string, pageNumber, pageSize int) (*models.Page, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidRequest)
	}
	if pageNumber < 0 {
		return nil, fmt.Errorf("%w: page must be >= 0", domain.ErrInvalidRequest)
	}
	if pageSize < 1 || pageSize > domain.MaxPageSize {
		return nil, fmt.Errorf("%w: size must be between 1 and %d", domain.ErrInvalidRequest, domain.MaxPageSize)
	}
	if pageNumber > math.MaxInt32/pageSize {
		return nil, fmt.Errorf("%w: page out of range", domain.ErrInvalidRequest)
	}

	q := e.store.Queries()
	txs, err := q.ListTransactionsByAccount(ctx, repository.ListTransactionsByAccountParams{
		AccountID: accountID,
		Limit:     int32(pageSize),
		Offset:    int32(pageNumber * pageSize),
	})
	if err != nil {
		return nil, err
	}

	if len(txs) == 0 {
		exists, err := q.AccountExists(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domain.NewAccountNotFound(accountID)
		}
	}

	total, err := q.CountTransactionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	items := make([]models.HistoryItem, 0, len(txs))
	for _, tx := range txs {
		items = append(items, models.HistoryItem{Transaction: tx, Direction: directionFor(tx, accountID)})
	}

	return &models.Page{
		Items:      items,
		PageNumber: pageNumber,
		PageSize:   pageSize,
		ItemCount:  len(items),
		TotalItems: total,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func directionFor(tx models.Transaction, accountID string) string {
	switch tx.Kind {
	case domain.KindCredit:
		return domain.DirectionIn
	case domain.KindInternalTransfer:
		if tx.FromAccountID != nil && *tx.FromAccountID == accountID {
			return domain.DirectionOut
		}
		return domain.DirectionIn
	default:
		return domain.DirectionOut
	}
}
