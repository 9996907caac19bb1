package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request cache metrics
	NetworkRequests *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec

	// Enrichment metrics
	PaddingFetches *prometheus.CounterVec

	// Write buffer metrics
	BufferedOperations prometheus.Gauge
	ReplayedOperations *prometheus.CounterVec

	// Push metrics
	PushMessages        *prometheus.CounterVec
	InterceptorFailures prometheus.Counter
	SocketConnected     prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		NetworkRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localsync_network_requests_total",
				Help: "Total number of network requests issued for queries",
			},
			[]string{"table", "strategy"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "localsync_request_duration_seconds",
				Help:    "Duration of network request plus store write",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table", "strategy"},
		),

		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localsync_request_errors_total",
				Help: "Total number of failed queries and mutations",
			},
			[]string{"operation", "error_type"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localsync_request_cache_hits_total",
				Help: "Total number of queries answered without a network call",
			},
			[]string{"table"},
		),

		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localsync_request_cache_misses_total",
				Help: "Total number of queries that required a network call",
			},
			[]string{"table"},
		),

		PaddingFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localsync_padding_fetches_total",
				Help: "Total number of enrichment fetches for partial rows",
			},
			[]string{"table", "status"},
		),

		BufferedOperations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "localsync_buffered_operations",
				Help: "Number of operations waiting for a store to attach",
			},
		),

		ReplayedOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localsync_replayed_operations_total",
				Help: "Total number of buffered operations replayed",
			},
			[]string{"kind", "status"},
		),

		PushMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "localsync_push_messages_total",
				Help: "Total number of push messages by outcome",
			},
			[]string{"method", "outcome"},
		),

		InterceptorFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "localsync_interceptor_failures_total",
				Help: "Total number of interceptor handlers that panicked",
			},
		),

		SocketConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "localsync_socket_connected",
				Help: "Whether the push stream is connected",
			},
		),
	}
}

// RecordNetworkRequest records a network request and its duration
func (m *Metrics) RecordNetworkRequest(table, strategy string, duration float64) {
	m.NetworkRequests.WithLabelValues(table, strategy).Inc()
	m.RequestDuration.WithLabelValues(table, strategy).Observe(duration)
}

// RecordError records a failed operation
func (m *Metrics) RecordError(operation, errorType string) {
	m.RequestErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordCacheHit records a query served from the store alone
func (m *Metrics) RecordCacheHit(table string) {
	m.CacheHits.WithLabelValues(table).Inc()
}

// RecordCacheMiss records a query that went to the network
func (m *Metrics) RecordCacheMiss(table string) {
	m.CacheMisses.WithLabelValues(table).Inc()
}

// RecordPadding records an enrichment fetch
func (m *Metrics) RecordPadding(table, status string) {
	m.PaddingFetches.WithLabelValues(table, status).Inc()
}

// UpdateBufferedOperations sets the write buffer size
func (m *Metrics) UpdateBufferedOperations(size int) {
	m.BufferedOperations.Set(float64(size))
}

// RecordReplay records the outcome of one replayed operation
func (m *Metrics) RecordReplay(kind, status string) {
	m.ReplayedOperations.WithLabelValues(kind, status).Inc()
}

// RecordPushMessage records the outcome of one push message
func (m *Metrics) RecordPushMessage(method, outcome string) {
	m.PushMessages.WithLabelValues(method, outcome).Inc()
}

// RecordInterceptorFailure records a panicking interceptor
func (m *Metrics) RecordInterceptorFailure() {
	m.InterceptorFailures.Inc()
}

// SetSocketConnected records the push stream state
func (m *Metrics) SetSocketConnected(connected bool) {
	if connected {
		m.SocketConnected.Set(1)
		return
	}
	m.SocketConnected.Set(0)
}
