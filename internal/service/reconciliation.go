package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payment-ledger/internal/domain"
	"github.com/ayo6706/payment-ledger/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultStaleAfter  = 5 * time.Minute
	anomalyReportLimit = 100
)

// ReconciliationReport summarizes one outbox consistency check.
type ReconciliationReport struct {
	MissingEvents   int
	DuplicateEvents int
	StaleNewEvents  int64
	FailedEvents    int64
}

// Healthy reports whether every check passed. Failed events are reported but are not an inconsistency.
func (r ReconciliationReport) Healthy() bool {
	return r.MissingEvents == 0 && r.DuplicateEvents == 0 && r.StaleNewEvents == 0
}

// ReconciliationService verifies outbox invariants: one event per completed
// transaction, and no NEW event waiting longer than staleAfter.
type ReconciliationService struct {
	store      QueryStore
	staleAfter time.Duration
	now        func() time.Time
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store, staleAfter: defaultStaleAfter, now: time.Now}
}

// WithStaleAfter sets how long a NEW event may wait before it is reported.
func (s *ReconciliationService) WithStaleAfter(d time.Duration) *ReconciliationService {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

// Run performs all checks and logs each anomaly.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport
	queries := s.store.Queries()

	anomalies, err := queries.ListOutboxCoverageAnomalies(ctx, anomalyReportLimit)
	if err != nil {
		return report, fmt.Errorf("run outbox coverage query: %w", err)
	}
	for _, a := range anomalies {
		check := "duplicate_event"
		if a.EventCount == 0 {
			check = "missing_event"
			report.MissingEvents++
		} else {
			report.DuplicateEvents++
		}
		observability.IncrementOutboxAnomaly(check)
		zap.L().Error("CRITICAL: completed transaction without exactly one outbox event",
			zap.String("transaction_id", a.TransactionID.String()),
			zap.Int64("event_count", a.EventCount),
		)
	}

	report.StaleNewEvents, err = queries.CountOutboxEventsOlderThan(ctx, domain.OutboxStatusNew, s.now().Add(-s.staleAfter))
	if err != nil {
		return report, fmt.Errorf("count stale outbox events: %w", err)
	}
	if report.StaleNewEvents > 0 {
		observability.IncrementOutboxAnomaly("stale_new")
		zap.L().Error("outbox events waiting past dispatch window",
			zap.Int64("count", report.StaleNewEvents),
			zap.Duration("stale_after", s.staleAfter),
		)
	}

	report.FailedEvents, err = queries.CountOutboxEventsOlderThan(ctx, domain.OutboxStatusFailed, s.now().Add(time.Second))
	if err != nil {
		return report, fmt.Errorf("count failed outbox events: %w", err)
	}
	if report.FailedEvents > 0 {
		zap.L().Warn("failed outbox events awaiting replay", zap.Int64("count", report.FailedEvents))
	}

	if report.Healthy() {
		zap.L().Info("Outbox consistent")
	}
	return report, nil
}
