package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.PermissionChecksTotal.WithLabelValues("read", "true").Inc()
	m.PermissionCacheHits.Inc()
	m.AccessRequestsTotal.WithLabelValues("approved").Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["rounds_permission_checks_total"])
	assert.True(t, names["rounds_permission_cache_hits_total"])
	assert.True(t, names["rounds_access_requests_total"])
}

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRec.Body.String()
	assert.True(t, strings.Contains(body, `rounds_http_requests_total{method="GET",path="/requests",status="418"} 1`))
}
