package metrics

import (
	"strconv"
	"time"

	"github.com/crmpulse/crmpulse/internal/observability"
)

// HTTP surface metrics.
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDurationMs = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
)

// HTTPRequest describes one completed request. Endpoint must be a route
// pattern, never a raw path.
type HTTPRequest struct {
	Method       string
	Endpoint     string
	Status       int
	Duration     time.Duration
	RequestSize  int64
	ResponseSize int64
}

// RecordHTTPRequest emits request count, latency, sizes and, for 4xx/5xx
// responses, an error counter.
func RecordHTTPRequest(req HTTPRequest) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}

	status := strconv.Itoa(req.Status)
	labels := map[string]string{
		"method":   req.Method,
		"endpoint": req.Endpoint,
		"status":   status,
	}
	_ = sys.Counter(HTTPRequestsTotal, 1, labels)
	_ = sys.Histogram(HTTPRequestDurationMs, req.Duration, labels)

	sizeLabels := map[string]string{"method": req.Method, "endpoint": req.Endpoint}
	_ = sys.Gauge(HTTPRequestSizeBytes, float64(req.RequestSize), sizeLabels)
	_ = sys.Gauge(HTTPResponseSizeBytes, float64(req.ResponseSize), sizeLabels)

	if req.Status < 400 {
		return
	}
	errorType := "client_error"
	if req.Status >= 500 {
		errorType = "server_error"
	}
	_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
		"method":     req.Method,
		"endpoint":   req.Endpoint,
		"status":     status,
		"error_type": errorType,
	})
}
