package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

const namespace = "ledger"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Replay metrics
	EntriesApplied prometheus.Counter
	EntriesSkipped *prometheus.CounterVec
	ReplayErrors   prometheus.Counter
	ReplayCursor   prometheus.Gauge
	Accounts       prometheus.Gauge
	CaughtUpTotal  prometheus.Counter

	// Submit metrics
	TransactionsAccepted prometheus.Counter
	TransactionsRejected *prometheus.CounterVec
	TransactionAmount    prometheus.Histogram

	// Worker metrics
	WorkerMessages *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Rate limiting metrics
	RateLimitHits prometheus.Counter

	// Circuit breaker metrics
	BreakerState *prometheus.GaugeVec
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Replay metrics
		EntriesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_entries_applied_total",
			Help:      "Ledger entries applied to materialized balances",
		}),
		EntriesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replay_entries_skipped_total",
				Help:      "Ledger entries skipped during replay by reason",
			},
			[]string{"reason"},
		),
		ReplayErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_errors_total",
			Help:      "Ledger read failures during replay",
		}),
		ReplayCursor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_cursor_millis",
			Help:      "Millisecond part of the last applied entry id",
		}),
		Accounts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_accounts",
			Help:      "Local accounts with a materialized balance at catch-up",
		}),
		CaughtUpTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_caught_up_total",
			Help:      "Completed catch-up phases",
		}),

		// Submit metrics
		TransactionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_accepted_total",
			Help:      "Transactions appended to the ledger",
		}),
		TransactionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_rejected_total",
				Help:      "Transactions rejected by reason",
			},
			[]string{"reason"},
		),
		TransactionAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_amount_minor_units",
			Help:      "Accepted transaction amounts",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		}),

		// Worker metrics
		WorkerMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_total",
				Help:      "Messages handled by background workers by result",
			},
			[]string{"worker", "result"},
		),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),

		// Rate limiting metrics
		RateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		}),

		// Circuit breaker metrics
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}
}

// EntryApplied implements usecase.ReplayMetrics.
func (m *Metrics) EntryApplied(cursor domain.EntryID) {
	m.EntriesApplied.Inc()
	m.ReplayCursor.Set(float64(cursor.Millis))
}

// EntrySkipped implements usecase.ReplayMetrics.
func (m *Metrics) EntrySkipped(reason string) {
	m.EntriesSkipped.WithLabelValues(reason).Inc()
}

// ReplayError implements usecase.ReplayMetrics.
func (m *Metrics) ReplayError() {
	m.ReplayErrors.Inc()
}

// CaughtUp implements usecase.ReplayMetrics.
func (m *Metrics) CaughtUp(accounts int) {
	m.CaughtUpTotal.Inc()
	m.Accounts.Set(float64(accounts))
}

// TransactionAccepted implements usecase.SubmitMetrics.
func (m *Metrics) TransactionAccepted(amount int64) {
	m.TransactionsAccepted.Inc()
	m.TransactionAmount.Observe(float64(amount))
}

// TransactionRejected implements usecase.SubmitMetrics.
func (m *Metrics) TransactionRejected(reason string) {
	m.TransactionsRejected.WithLabelValues(reason).Inc()
}

// MessageProcessed implements usecase.WorkerMetrics.
func (m *Metrics) MessageProcessed(worker, result string) {
	m.WorkerMessages.WithLabelValues(worker, result).Inc()
}

// BreakerStateChanged implements resilience.StateObserver.
func (m *Metrics) BreakerStateChanged(name, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}

// RequestStarted increments the in-flight gauge and returns its decrement.
func (m *Metrics) RequestStarted() func() {
	m.HTTPInFlight.Inc()
	return m.HTTPInFlight.Dec
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, path, status string, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RateLimited records a rejected request.
func (m *Metrics) RateLimited() {
	m.RateLimitHits.Inc()
}
