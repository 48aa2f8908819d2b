package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/payment-ledger/internal/lock"
	"github.com/ayo6706/payment-ledger/internal/observability"
	"github.com/ayo6706/payment-ledger/internal/service"
	"go.uber.org/zap"
)

// OutboxProcessor drains one batch of NEW outbox events, renewing lease as it goes.
type OutboxProcessor interface {
	ProcessOutboxEventsUnderLease(ctx context.Context, batchSize int32, lease service.LeaseRenewer) (service.DispatchResult, error)
}

// OutboxWorker publishes pending outbox events on a fixed interval,
// independent of request traffic. When a Locker is set only the replica
// holding the lease runs a cycle.
type OutboxWorker struct {
	processor    OutboxProcessor
	locker       lock.Locker
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

// NewOutboxWorker creates a worker that polls every second in batches of 100.
func NewOutboxWorker(processor OutboxProcessor) *OutboxWorker {
	return &OutboxWorker{
		processor:    processor,
		locker:       lock.NoopLocker{},
		pollInterval: time.Second,
		batchSize:    100,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *OutboxWorker) WithPollInterval(interval time.Duration) *OutboxWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *OutboxWorker) WithBatchSize(size int32) *OutboxWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// WithLocker makes cycles conditional on holding the lease.
func (w *OutboxWorker) WithLocker(l lock.Locker) *OutboxWorker {
	if l != nil {
		w.locker = l
	}
	return w
}

// Start blocks and runs a cycle per tick until Stop is called or ctx is canceled.
func (w *OutboxWorker) Start(ctx context.Context) {
	defer close(w.done)
	zap.L().Info("outbox worker starting", zap.Duration("interval", w.pollInterval), zap.Int32("batch", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("outbox worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("outbox worker stop signal received")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				zap.L().Error("outbox cycle failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the worker to stop and waits for the current cycle to finish.
func (w *OutboxWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// ProcessOnce runs a single cycle immediately, if the lease is available.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (service.DispatchResult, error) {
	lease, ok, err := w.locker.TryLock(ctx)
	if err != nil {
		observability.IncrementWorkerRun("outbox", "lock_error")
		return service.DispatchResult{}, err
	}
	if !ok {
		observability.IncrementWorkerRun("outbox", "lock_held")
		return service.DispatchResult{}, nil
	}
	defer lease.Release()

	result, err := w.processor.ProcessOutboxEventsUnderLease(ctx, w.batchSize, lease)
	if errors.Is(err, lock.ErrLeaseLost) {
		observability.IncrementWorkerRun("outbox", "lease_lost")
		zap.L().Warn("outbox cycle stopped: dispatcher lease lost",
			zap.Int("processed", result.Processed), zap.Int("skipped", result.Skipped), zap.Error(err))
		return result, err
	}
	if err != nil {
		observability.IncrementWorkerRun("outbox", "failed")
		return result, err
	}
	observability.IncrementWorkerRun("outbox", "success")
	if result.Processed > 0 {
		zap.L().Info("outbox cycle complete",
			zap.Int("processed", result.Processed),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *OutboxWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// String returns a string representation of the worker.
func (w *OutboxWorker) String() string {
	return fmt.Sprintf("OutboxWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
