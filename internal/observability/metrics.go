package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transactionCounter    *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	outboxEventCounter    *prometheus.CounterVec
	outboxStatusGauge     *prometheus.GaugeVec
	outboxReplayCounter   prometheus.Counter
	outboxAnomalyCounter  *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transactionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Transaction creation outcomes by kind",
		}, []string{"kind", "outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency guard outcomes",
		}, []string{"outcome"})

		outboxEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox dispatch results",
		}, []string{"result"})

		outboxStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outbox_events",
			Help: "Current number of outbox events by status",
		}, []string{"status"})

		outboxReplayCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_replays_total",
			Help: "Failed outbox events returned to NEW by an operator",
		})

		outboxAnomalyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_consistency_anomalies_total",
			Help: "Outbox invariant violations found by reconciliation",
		}, []string{"check"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transactionCounter,
			idempotencyCounter,
			outboxEventCounter,
			outboxStatusGauge,
			outboxReplayCounter,
			outboxAnomalyCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransaction(kind, outcome string) {
	if transactionCounter == nil {
		return
	}
	transactionCounter.WithLabelValues(kind, outcome).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementOutboxEvent(result string) {
	if outboxEventCounter == nil {
		return
	}
	outboxEventCounter.WithLabelValues(result).Inc()
}

func SetOutboxEvents(status string, count int64) {
	if outboxStatusGauge == nil {
		return
	}
	outboxStatusGauge.WithLabelValues(status).Set(float64(count))
}

func AddOutboxReplays(n int) {
	if outboxReplayCounter == nil {
		return
	}
	outboxReplayCounter.Add(float64(n))
}

func IncrementOutboxAnomaly(check string) {
	if outboxAnomalyCounter == nil {
		return
	}
	outboxAnomalyCounter.WithLabelValues(check).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
