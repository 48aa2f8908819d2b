package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ledger:idempotency"

// Cache remembers idempotency keys whose transactions have committed.
// It is a fast path only; the ledger's unique constraint decides conflicts.
type Cache struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewCache(redis redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{redis: redis, ttl: ttl}
}

// Remember records key as consumed by transactionID.
func (c *Cache) Remember(ctx context.Context, key string, transactionID uuid.UUID) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if err := c.redis.Set(ctx, redisKey(key), transactionID.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}

// TransactionID returns the transaction remembered for key, if any. A nil cache never has a key.
func (c *Cache) TransactionID(ctx context.Context, key string) (uuid.UUID, bool, error) {
	if c == nil || c.redis == nil {
		return uuid.Nil, false, nil
	}
	val, err := c.redis.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis idempotency lookup: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis idempotency value: %w", err)
	}
	return id, true, nil
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}
