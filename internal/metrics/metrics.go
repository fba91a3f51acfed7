package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cache operation metrics
	CacheOperationTotal    *prometheus.CounterVec
	CacheOperationDuration *prometheus.HistogramVec

	// Refresh and review workflow metrics
	WorkflowTotal    *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec

	// Page subscribers currently attached
	PageSubscribers prometheus.Gauge
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics.
// The instance is shared process-wide, so repeated calls return the same collectors.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		CacheOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_cache_operations_total",
			Help: "Total number of cache lookups and inserts",
		}, []string{"operation", "namespace", "status"}),

		CacheOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_cache_operation_duration_seconds",
			Help:    "Cache operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "namespace"}),

		WorkflowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_workflow_total",
			Help: "Completed refresh and review workflows by outcome",
		}, []string{"workflow", "outcome"}),

		WorkflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_workflow_duration_seconds",
			Help:    "Refresh and review workflow duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"workflow", "outcome"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),

		PageSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "store_page_subscribers",
			Help: "Number of attached page subscribers",
		}),
	}

	registerMetrics(m)
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.CacheOperationTotal)
	registerOrGet(m.CacheOperationDuration)
	registerOrGet(m.WorkflowTotal)
	registerOrGet(m.WorkflowDuration)
	registerOrGet(m.EventPublishTotal)
	registerOrGet(m.PageSubscribers)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
