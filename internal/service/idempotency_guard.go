package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/observability"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// KeyCache remembers committed idempotency keys. Implemented by idempotency.Cache.
type KeyCache interface {
	TransactionID(ctx context.Context, key string) (transactionID uuid.UUID, ok bool, err error)
	Remember(ctx context.Context, key string, transactionID uuid.UUID) error
}

// IdempotencyGuard rejects keys that already produced a transaction.
// Inside the unit of work the key is reserved first, so concurrent submissions of one key run
// one after another and the later ones find the committed row. The ledger's unique key is still
// the final arbiter and Resolve turns its violation into the same conflict.
type IdempotencyGuard struct {
	cache KeyCache
}

// NewIdempotencyGuard builds a guard; cache may be nil.
func NewIdempotencyGuard(cache KeyCache) *IdempotencyGuard {
	return &IdempotencyGuard{cache: cache}
}

// CheckAndReserve returns ErrIdempotencyConflict if key is already used. q must belong to the caller's unit of work.
func (g *IdempotencyGuard) CheckAndReserve(ctx context.Context, q repository.Querier, key string) error {
	if g.cache != nil {
		id, seen, err := g.cache.TransactionID(ctx, key)
		if err != nil {
			zap.L().Warn("idempotency cache lookup failed", zap.Error(err), zap.String("idempotency_key", key))
		} else if seen {
			observability.IncrementIdempotencyEvent("cache_hit")
			return fmt.Errorf("%w: %s already created transaction %s", domain.ErrIdempotencyConflict, key, id)
		}
	}

	if err := q.ReserveIdempotencyKey(ctx, key); err != nil {
		return err
	}

	existing, err := q.GetTransactionByIdempotencyKey(ctx, key)
	if err == nil {
		observability.IncrementIdempotencyEvent("ledger_hit")
		return fmt.Errorf("%w: %s already created transaction %s", domain.ErrIdempotencyConflict, key, existing.ID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("check idempotency key: %w", err)
}

// Resolve converts a unique-key violation raised at insert time into ErrIdempotencyConflict.
func (g *IdempotencyGuard) Resolve(err error) error {
	if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
		observability.IncrementIdempotencyEvent("unique_violation")
		return fmt.Errorf("%w: %w", domain.ErrIdempotencyConflict, err)
	}
	return err
}

// Remember records a committed key in the cache. Failures only cost the fast path.
func (g *IdempotencyGuard) Remember(ctx context.Context, key string, transactionID uuid.UUID) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Remember(ctx, key, transactionID); err != nil {
		zap.L().Warn("idempotency cache write failed", zap.Error(err), zap.String("idempotency_key", key))
	}
}
