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

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec
	PermissionCacheHits   prometheus.Counter
	PermissionCacheMisses prometheus.Counter

	// Request lifecycle metrics
	AccessRequestsTotal   *prometheus.CounterVec
	PendingGrantsGauge    prometheus.Gauge
	GrantReconcileRetries prometheus.Counter

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

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
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rounds_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rounds_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rounds_permission_checks_total",
				Help: "Permission evaluations by capability and outcome",
			},
			[]string{"capability", "allowed"},
		),
		PermissionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rounds_permission_cache_hits_total",
				Help: "Permission decision cache hits",
			},
		),
		PermissionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rounds_permission_cache_misses_total",
				Help: "Permission decision cache misses",
			},
		),
		AccessRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rounds_access_requests_total",
				Help: "Access request lifecycle events by outcome",
			},
			[]string{"event"},
		),
		PendingGrantsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rounds_pending_grants",
				Help: "Approved requests whose membership grant has not been applied yet",
			},
		),
		GrantReconcileRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rounds_grant_reconcile_retries_total",
				Help: "Reconciler retries of unapplied membership grants",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rounds_notifications_total",
				Help: "Notifier deliveries by outcome",
			},
			[]string{"outcome"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rounds_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rounds_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionChecksTotal,
		m.PermissionCacheHits,
		m.PermissionCacheMisses,
		m.AccessRequestsTotal,
		m.PendingGrantsGauge,
		m.GrantReconcileRetries,
		m.NotificationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware instruments HTTP handlers with request count and duration.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
