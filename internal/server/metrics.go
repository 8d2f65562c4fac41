package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/config"
	apperrors "github.com/crmpulse/crmpulse/internal/errors"
	"github.com/crmpulse/crmpulse/internal/observability"
)

var metricsProxyClient = &http.Client{
	Timeout: 5 * time.Second,
}

// hopHeaders are connection-scoped and never copied from the exporter.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// metricsURL resolves where the exporter listens: the bound port, then the
// configured port, then 9090.
func metricsURL() string {
	port := observability.GetMetricsPort()
	if port == 0 {
		if cfg := config.GetConfig(); cfg != nil {
			port = cfg.Metrics.Port
		}
	}
	if port == 0 {
		port = 9090
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

// MetricsHandler proxies the Prometheus exporter so /metrics can be scraped
// on the API port.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("Metrics exporter not initialized"))
		return
	}

	target := metricsURL()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.Wrap(r.Context(), apperrors.CodeInternal, err, "Unable to construct metrics request"))
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := metricsProxyClient.Do(req)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.Wrap(r.Context(), apperrors.CodeServiceUnavailable, err, "Prometheus exporter unavailable"))
		return
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to write metrics response", zap.Error(err))
	}
}
