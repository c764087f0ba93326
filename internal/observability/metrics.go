// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-token-ledger/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	StoreConflicts    *prometheus.CounterVec
	MintsCreated      prometheus.Counter
	AccountsCreated   prometheus.Counter
	LastCommittedSlot prometheus.Gauge

	// Journal metrics
	JournalAppends prometheus.Counter
	JournalErrors  prometheus.Counter

	// Transport metrics
	HTTPRequestDuration *prometheus.HistogramVec
	WSSubscriptions     prometheus.Gauge
	WSNotifications     prometheus.Counter

	// Health metrics
	UptimeSeconds prometheus.GaugeFunc

	started atomic.Int64 // unix nanoseconds
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "solana_token_ledger"
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// Ledger metrics
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by operation and result",
		}, []string{"operation", "result"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Transactions rejected because their records stayed locked",
		}, []string{"operation"}),
		MintsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mints_created_total",
			Help:      "Total number of mints created",
		}),
		AccountsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "accounts_created_total",
			Help:      "Total number of token accounts created",
		}),
		LastCommittedSlot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "last_committed_slot",
			Help:      "Slot of the most recently committed transaction",
		}),

		// Journal metrics
		JournalAppends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "appends_total",
			Help:      "Total number of ledger events written to the journal",
		}),
		JournalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "errors_total",
			Help:      "Total number of ledger events the journal failed to store",
		}),

		// Transport metrics
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds by route and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
		WSSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "subscriptions",
			Help:      "Current number of account subscriptions",
		}),
		WSNotifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "notifications_total",
			Help:      "Total number of account notifications pushed",
		}),
	}
	m.started.Store(time.Now().UnixNano())

	// Evaluated on every scrape.
	m.UptimeSeconds = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "uptime_seconds",
		Help:      "Seconds since the server started",
	}, func() float64 {
		return m.Uptime().Seconds()
	})
	return m
}

// MarkStarted sets the time uptime is measured from.
func (m *Metrics) MarkStarted(t time.Time) {
	m.started.Store(t.UnixNano())
}

// Uptime returns the time elapsed since MarkStarted, or since creation.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(time.Unix(0, m.started.Load()))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// ResultLabel classifies an operation outcome for the result label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, domain.ErrReplayed):
		return "replayed"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrOverflow):
		return "overflow"
	case errors.Is(err, domain.ErrMintMismatch):
		return "mint_mismatch"
	case errors.Is(err, domain.ErrInvalidMetadata),
		errors.Is(err, domain.ErrInvalidDecimals),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidNonce):
		return "invalid"
	case errors.Is(err, domain.ErrUninitialized):
		return "uninitialized"
	default:
		return "error"
	}
}

// RecordOperation records the outcome and duration of a ledger operation.
func RecordOperation(operation string, seconds float64, err error) {
	result := ResultLabel(err)
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, result).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
	if result == "conflict" {
		DefaultMetrics.StoreConflicts.WithLabelValues(operation).Inc()
	}
}

// RecordMintCreated increments the mints created counter.
func RecordMintCreated() {
	DefaultMetrics.MintsCreated.Inc()
}

// RecordAccountCreated increments the accounts created counter.
func RecordAccountCreated() {
	DefaultMetrics.AccountsCreated.Inc()
}

// UpdateCommittedSlot updates the last committed slot gauge.
func UpdateCommittedSlot(slot uint64) {
	DefaultMetrics.LastCommittedSlot.Set(float64(slot))
}

// RecordJournalAppend records a journal write and whether it failed.
func RecordJournalAppend(err error) {
	if err != nil {
		DefaultMetrics.JournalErrors.Inc()
		return
	}
	DefaultMetrics.JournalAppends.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route, code string, seconds float64) {
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route, code).Observe(seconds)
}

// UpdateWSSubscriptions sets the current number of account subscriptions.
func UpdateWSSubscriptions(n int) {
	DefaultMetrics.WSSubscriptions.Set(float64(n))
}

// RecordWSNotification increments the pushed notifications counter.
func RecordWSNotification() {
	DefaultMetrics.WSNotifications.Inc()
}

// MarkStarted sets the start time reported by the uptime gauge.
func MarkStarted(t time.Time) {
	DefaultMetrics.MarkStarted(t)
}
