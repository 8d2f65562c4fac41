package observability

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// defaultMetricsPort is reported when the exporter address cannot be read.
const defaultMetricsPort = 9090

var (
	// TelemetrySystem receives source, cache, snapshot and HTTP metrics.
	// Nil disables metric emission everywhere.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint proxied at /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsMu   sync.Mutex
	metricsPort int
)

// InitMetrics starts a Prometheus exporter on port (0 picks a free port) and
// installs a telemetry system emitting into it. Metric names are prefixed
// with namespace.
func InitMetrics(namespace string, port int) error {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if port < 0 {
		port = 0
	}
	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("create telemetry system: %w", err)
	}

	switch actual, err := resolvePort(exporter.GetAddr()); {
	case err == nil:
		metricsPort = actual
	case port == 0:
		metricsPort = defaultMetricsPort
	default:
		metricsPort = port
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// StopMetrics shuts the exporter down and disables metric emission.
func StopMetrics() error {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	exporter := PrometheusExporter
	PrometheusExporter = nil
	TelemetrySystem = nil
	metricsPort = 0
	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort returns the port the exporter listens on, or 0 when metrics
// were never started.
func GetMetricsPort() int {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
