package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerOperations counts processed ledger requests by operation
	// (authorize|load) and result (approved|declined|loaded|rejected|failed).
	LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total ledger operations by outcome",
		},
		[]string{"operation", "result"},
	)

	// NotificationFailures counts events that were committed but could not be published.
	NotificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_notification_failures_total",
			Help: "Total event notifications that failed to send",
		},
	)

	// HTTPLatency observes request latency per route template.
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	initOnce sync.Once
)

// Handler serves the default registry for /metrics.
var Handler = promhttp.Handler

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(LedgerOperations)
		prometheus.MustRegister(NotificationFailures)
		prometheus.MustRegister(HTTPLatency)
	})
}
