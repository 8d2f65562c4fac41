package metrics

import (
	"time"

	"github.com/crmpulse/crmpulse/internal/observability"
)

// Aggregation metrics following Prometheus conventions
const (
	SourceFetchTotal      = "source_fetch_total"
	SourceFetchDuration   = "source_fetch_duration_ms"
	RetryBlockedTotal     = "retry_blocked_total"
	CacheWritesTotal      = "cache_writes_total"
	CacheReadsTotal       = "cache_reads_total"
	SnapshotPublishTotal  = "snapshot_publish_total"
	SourcesInFlight       = "sources_in_flight"
	ServerStartTime       = "app_server_start_time_seconds"
	HealthCheckTotal      = "app_health_check_total"
	HealthCheckDurationMs = "app_health_check_duration_ms"
)

// RecordSourceFetch records one settled fetch cycle for a source.
func RecordSourceFetch(source string, status string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{
		"source": source,
		"status": status,
	}
	_ = observability.TelemetrySystem.Counter(SourceFetchTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(SourceFetchDuration, duration, map[string]string{"source": source})
}

// RecordRetryBlocked records a retry gate transitioning to blocked.
func RecordRetryBlocked(source string, kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RetryBlockedTotal,
			1,
			map[string]string{
				"source": source,
				"kind":   kind,
			},
		)
	}
}

// RecordCacheWrite records a successful result cache write for a source.
func RecordCacheWrite(source string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheWritesTotal,
			1,
			map[string]string{"source": source},
		)
	}
}

// RecordCacheRead records a cache lookup outcome.
func RecordCacheRead(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheReadsTotal,
			1,
			map[string]string{"result": result},
		)
	}
}

// RecordSnapshotPublish records a published snapshot by overall state.
func RecordSnapshotPublish(state string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SnapshotPublishTotal,
			1,
			map[string]string{"state": state},
		)
	}
}

// SetSourcesInFlight sets the number of fetches currently running.
func SetSourcesInFlight(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(SourcesInFlight, float64(count), nil)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)
		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDurationMs,
			duration,
			map[string]string{"check": checkName},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}
