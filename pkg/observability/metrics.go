package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the audit engine.
type Metrics struct {
	// Audit write path
	EntriesWrittenTotal  *prometheus.CounterVec
	DiffsSuppressedTotal prometheus.Counter
	WriteFailuresTotal   prometheus.Counter
	DiffDuration         prometheus.Histogram

	// Partition maintenance
	PartitionOperationsTotal *prometheus.CounterVec

	// HTTP metrics (read API)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		EntriesWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_entries_written_total",
				Help: "Total number of audit log entries persisted",
			},
			[]string{"action", "entity_type"},
		),
		DiffsSuppressedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_diffs_suppressed_total",
				Help: "Mutations whose diff was empty and produced no entry",
			},
		),
		WriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_write_failures_total",
				Help: "Audit entry diff or persistence failures that were swallowed",
			},
		),
		DiffDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chronicle_diff_duration_seconds",
				Help:    "Time spent computing field-level diffs",
				Buckets: prometheus.DefBuckets,
			},
		),
		PartitionOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_partition_operations_total",
				Help: "Partition maintenance operations by outcome",
			},
			[]string{"operation", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chronicle_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chronicle_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.EntriesWrittenTotal,
		m.DiffsSuppressedTotal,
		m.WriteFailuresTotal,
		m.DiffDuration,
		m.PartitionOperationsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware instruments an HTTP handler with request count and duration.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}
