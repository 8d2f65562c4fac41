package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmpulse/crmpulse/internal/metrics"
	"github.com/crmpulse/crmpulse/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func serveThrough(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestMetricsEmitsPerRequest(t *testing.T) {
	collector := setupTelemetry(t)

	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"ready"}`))
	}))

	rec := serveThrough(h, http.MethodGet, "/api/v1/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"state":"ready"}`, rec.Body.String())

	for _, name := range []string{
		metrics.HTTPRequestsTotal,
		metrics.HTTPRequestDurationMs,
		metrics.HTTPRequestSizeBytes,
		metrics.HTTPResponseSizeBytes,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
	assert.Equal(t, 0, collector.CountMetricsByName(metrics.HTTPErrorsTotal))
}

func TestRequestMetricsCountsErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
	}{
		{name: "Conflict", status: http.StatusConflict},
		{name: "Unavailable", status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collector := setupTelemetry(t)
			h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))

			rec := serveThrough(h, http.MethodPost, "/api/v1/dashboard/refresh", `{}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Greater(t, collector.CountMetricsByName(metrics.HTTPErrorsTotal), 0)
		})
	}
}

func TestRequestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	h := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := serveThrough(h, http.MethodPost, "/api/v1/dashboard/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestMetricsKeepsRequestID(t *testing.T) {
	collector := setupTelemetry(t)

	h := RequestID(RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-42", GetRequestID(r.Context()))
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Greater(t, collector.CountMetricsByName(metrics.HTTPRequestsTotal), 0)
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := serveThrough(h, http.MethodGet, "/version", "")
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestGetEndpointPattern(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/live", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/api/v1/dashboard", "/api/v1/dashboard"},
		{"/api/v1/dashboard/refresh", "/api/v1/dashboard/refresh"},
		{"/api/v1/sources", "/api/v1/sources"},
		{"/api/v1/clients/123", "/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.expected, getEndpointPattern(req))
		})
	}
}

func TestGetEndpointPatternPrefersRoutePattern(t *testing.T) {
	var pattern string
	r := chi.NewRouter()
	r.Get("/api/v1/things/{id}", func(w http.ResponseWriter, req *http.Request) {
		pattern = getEndpointPattern(req)
	})

	serveThrough(r, http.MethodGet, "/api/v1/things/abc", "")
	require.Equal(t, "/api/v1/things/{id}", pattern)
}
