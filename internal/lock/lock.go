// Package lock provides the lease that keeps a single outbox dispatcher active across replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLeaseLost means the lease expired or passed to another holder before it could be extended.
var ErrLeaseLost = errors.New("lease lost")

// Lease is a held lock. Extend pushes the expiry a full TTL past now; Release frees it.
type Lease interface {
	Extend(ctx context.Context) error
	Release()
}

// Locker acquires a named lease without waiting. ok is false when another holder owns it.
type Locker interface {
	TryLock(ctx context.Context) (lease Lease, ok bool, err error)
}

// RedisLocker is a redsync mutex with a single attempt per call.
type RedisLocker struct {
	rs   *redsync.Redsync
	name string
	ttl  time.Duration
}

func NewRedisLocker(client redis.UniversalClient, name string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		name: name,
		ttl:  ttl,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context) (Lease, bool, error) {
	mutex := l.rs.NewMutex(l.name,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.name, err)
	}
	return &redisLease{mutex: mutex, name: l.name}, true, nil
}

type redisLease struct {
	mutex *redsync.Mutex
	name  string
}

func (l *redisLease) Extend(ctx context.Context) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLeaseLost, l.name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseLost, l.name)
	}
	return nil
}

func (l *redisLease) Release() {
	// Release on a fresh context so a canceled cycle still frees the lease.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok, err := l.mutex.UnlockContext(ctx); !ok || err != nil {
		zap.L().Warn("release lock failed", zap.String("lock", l.name), zap.Error(err))
	}
}

// NoopLocker always grants the lease. Used when no Redis is configured.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context) (Lease, bool, error) {
	return noopLease{}, true, nil
}

type noopLease struct{}

func (noopLease) Extend(context.Context) error { return nil }
func (noopLease) Release()                     {}
