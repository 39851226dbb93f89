package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission check metrics
	PermissionChecksTotal   *prometheus.CounterVec
	PermissionCheckDuration prometheus.Histogram

	// Snapshot metrics
	SnapshotBuildsTotal   *prometheus.CounterVec
	SnapshotBuildDuration prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheEntries     prometheus.Gauge
	RuleSetVersion   prometheus.Gauge

	// Rule management metrics
	RuleMutationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingops_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wingops_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingops_permission_checks_total",
				Help: "Total number of permission checks by result",
			},
			[]string{"result"},
		),
		PermissionCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wingops_permission_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		SnapshotBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingops_snapshot_builds_total",
				Help: "Total number of permission snapshot builds by outcome",
			},
			[]string{"outcome"},
		),
		SnapshotBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wingops_snapshot_build_duration_seconds",
				Help:    "Permission snapshot build duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wingops_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wingops_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wingops_permission_cache_entries",
				Help: "Current number of cached permission snapshots",
			},
		),
		RuleSetVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wingops_permission_rule_set_version",
				Help: "Current permission rule-set version",
			},
		),
		RuleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wingops_permission_rule_mutations_total",
				Help: "Total number of permission rule mutations by operation",
			},
			[]string{"operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.PermissionCheckDuration,
		m.SnapshotBuildsTotal,
		m.SnapshotBuildDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEntries,
		m.RuleSetVersion,
		m.RuleMutationsTotal,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter captures the status code for metrics
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware instruments HTTP handlers with request count and duration
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}
