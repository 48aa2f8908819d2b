package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MockPublisher simulates a message channel for local runs and tests.
// It waits up to MaxDelay, then fails with probability FailureRate.
type MockPublisher struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	MaxDelay    time.Duration

	mu        sync.Mutex
	published []Message
}

// NewMockPublisher creates a publisher that always acknowledges.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish logs and records msg, or fails according to FailureRate.
func (p *MockPublisher) Publish(ctx context.Context, msg Message) error {
	if p.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(p.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		}
	}

	if p.FailureRate > 0 && rand.Float64() < p.FailureRate {
		return fmt.Errorf("%w: channel temporarily unavailable", ErrNacked)
	}

	p.mu.Lock()
	p.published = append(p.published, msg)
	p.mu.Unlock()

	zap.L().Info("event published",
		zap.String("event_id", msg.ID.String()),
		zap.String("event_type", msg.Type),
		zap.String("partition_key", msg.PartitionKey),
	)
	return nil
}

// Published returns a copy of every acknowledged message in publish order.
func (p *MockPublisher) Published() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.published...)
}
