package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/metrics"
	"github.com/crmpulse/crmpulse/internal/observability"
)

// statusRecorder captures what the handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// getEndpointPattern returns the chi route pattern, or a fixed bucket for
// requests that never matched a route.
func getEndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case path == "/api/v1/dashboard", path == "/api/v1/dashboard/refresh", path == "/api/v1/sources":
		return path
	default:
		return "/unknown"
	}
}

// quietEndpoints are polled by probes and scrapers; their completions are
// logged at debug level.
var quietEndpoints = map[string]bool{
	"/health/*": true,
	"/metrics":  true,
}

// RequestMetrics records metrics for every request and logs its completion
// with the request ID.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := getEndpointPattern(r)
		duration := time.Since(start)
		requestSize := r.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		metrics.RecordHTTPRequest(metrics.HTTPRequest{
			Method:       r.Method,
			Endpoint:     endpoint,
			Status:       rec.status,
			Duration:     duration,
			RequestSize:  requestSize,
			ResponseSize: rec.bytes,
		})

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.Int64("response_size", rec.bytes),
			zap.String("requestID", GetRequestID(r.Context())),
		}
		if quietEndpoints[endpoint] {
			logger.Debug("HTTP request completed", fields...)
			return
		}
		logger.Info("HTTP request completed", fields...)
	})
}
