// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Mutation metrics
	TransferResults *prometheus.CounterVec
	MintsTotal      prometheus.Counter
	BurnsTotal      prometheus.Counter
	TokensCreated   prometheus.Counter

	// Transaction log metrics
	TransactionsLogged *prometheus.CounterVec

	// Query metrics
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// Replay guard metrics
	ReplayRejections prometheus.Counter

	// Feed metrics
	FeedSubscribers   prometheus.Gauge
	FeedDroppedFrames prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "icrc7_ledger"
	}

	return &Metrics{
		TransferResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transfer_results_total",
			Help:      "Transfer batch item outcomes by result code",
		}, []string{"code"}),
		MintsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "mints_total",
			Help:      "Total number of tokens minted",
		}),
		BurnsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "burns_total",
			Help:      "Total number of tokens burned",
		}),
		TokensCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tokens_created_total",
			Help:      "Total number of token classes created",
		}),
		TransactionsLogged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "txlog",
			Name:      "transactions_logged_total",
			Help:      "Transactions appended to the ledger history by operation",
		}, []string{"op"}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Latency of read-side ledger queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Read-side ledger query errors",
		}, []string{"query"}),
		ReplayRejections: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "replay_rejections_total",
			Help:      "Transfers rejected as duplicates within the replay window",
		}),
		FeedSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Currently connected live feed subscribers",
		}),
		FeedDroppedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_frames_total",
			Help:      "Feed frames dropped because a subscriber was too slow",
		}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors",
		}, []string{"database", "operation"}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uptime_seconds_total",
			Help:      "Seconds the server has been running",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransferResult records one transfer batch item outcome.
func RecordTransferResult(code string) {
	DefaultMetrics.TransferResults.WithLabelValues(code).Inc()
	if code == "DUPLICATE" {
		DefaultMetrics.ReplayRejections.Inc()
	}
}

// RecordMint records a minted token.
func RecordMint() {
	DefaultMetrics.MintsTotal.Inc()
}

// RecordBurn records a burned token.
func RecordBurn() {
	DefaultMetrics.BurnsTotal.Inc()
}

// RecordTokenCreated records a newly created token class.
func RecordTokenCreated() {
	DefaultMetrics.TokensCreated.Inc()
}

// RecordTransactionLogged records a transaction appended to the history.
func RecordTransactionLogged(op string) {
	DefaultMetrics.TransactionsLogged.WithLabelValues(op).Inc()
}

// RecordQuery records a read-side query with its duration.
func RecordQuery(query string, seconds float64, err error) {
	DefaultMetrics.QueryDuration.WithLabelValues(query).Observe(seconds)
	if err != nil {
		DefaultMetrics.QueryErrors.WithLabelValues(query).Inc()
	}
}

// RecordDBQuery records a database query with its duration.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// SetFeedSubscribers updates the live feed subscriber gauge.
func SetFeedSubscribers(n int) {
	DefaultMetrics.FeedSubscribers.Set(float64(n))
}

// RecordFeedDrop records a frame dropped on a slow subscriber.
func RecordFeedDrop() {
	DefaultMetrics.FeedDroppedFrames.Inc()
}
