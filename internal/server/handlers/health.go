package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/crmpulse/crmpulse/internal/errors"
	"github.com/crmpulse/crmpulse/internal/metrics"
)

// Check results.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a plain function, such as a store ping, to HealthChecker.
type CheckerFunc func(ctx context.Context) error

// CheckHealth calls f.
func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

type registeredCheck struct {
	checker HealthChecker
	// critical checks gate readiness and startup; a failing advisory check
	// only degrades the aggregate status.
	critical bool
}

// HealthManager runs registered checks for the aggregate endpoint and the
// Kubernetes-style probes. Liveness never runs checks: an unreachable CRM
// backend must not get the process restarted.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	version string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:  make(map[string]registeredCheck),
		version: version,
	}
}

// RegisterChecker registers a critical check, such as the store.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

// RegisterAdvisory registers a check whose failure reports the service as
// degraded rather than unavailable, such as upstream source health.
func (hm *HealthManager) RegisterAdvisory(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

func (hm *HealthManager) register(name string, checker HealthChecker, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = registeredCheck{checker: checker, critical: critical}
}

// runHealthChecks executes the selected checks concurrently and reports the
// overall status alongside each check's result.
func (hm *HealthManager) runHealthChecks(ctx context.Context, criticalOnly bool) (string, map[string]string) {
	hm.mu.RLock()
	selected := make(map[string]registeredCheck, len(hm.checks))
	for name, check := range hm.checks {
		if check.critical || !criticalOnly {
			selected[name] = check
		}
	}
	hm.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]string, len(selected))
	var g errgroup.Group
	for name, check := range selected {
		g.Go(func() error {
			started := time.Now()
			err := check.checker.CheckHealth(ctx)
			metrics.RecordHealthCheck(name, err == nil, time.Since(started))

			result := StatusHealthy
			switch {
			case err == nil:
			case ctx.Err() != nil:
				result = StatusTimeout
			case check.critical:
				result = StatusUnhealthy
			default:
				result = StatusDegraded
			}

			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return overallStatus(selected, results), results
}

// overallStatus is unhealthy when a critical check failed or timed out,
// degraded when only advisory checks did.
func overallStatus(checks map[string]registeredCheck, results map[string]string) string {
	status := StatusHealthy
	for name, result := range results {
		if result == StatusHealthy {
			continue
		}
		if checks[name].critical {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}

// HealthHandler reports every check, critical and advisory.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, checks := hm.runHealthChecks(ctx, false)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope("aggregate health check failed", "", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler answers as long as the process serves HTTP.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler runs critical checks only.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "ready", 5*time.Second)
}

// StartupHandler runs critical checks only, with a shorter budget.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probe(w, r, "startup", 3*time.Second)
}

func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, name string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status, checks := hm.runHealthChecks(ctx, true)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope(name+" probe failed", name, status, checks))
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func healthEnvelope(message, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	envelope := apperrors.NewServiceUnavailableError(message)

	details := map[string]interface{}{"status": status}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if probe != "" {
		details["probe"] = probe
	}
	envelope = envelope.WithDetails(details)

	failing := make([]string, 0, len(checks))
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	contextData := map[string]interface{}{"status": status}
	if probe != "" {
		contextData["probe"] = probe
	}
	if len(failing) > 0 {
		contextData["failing_checks"] = failing
	}
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withHealthManager(probe string, handle func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := globalHealthManager; hm != nil {
			handle(hm, w, r)
			return
		}
		respondWithError(w, r, healthEnvelope("health manager not initialized", probe, "unknown", nil))
	}
}

// Route handlers backed by the global manager.
var (
	HealthHandler    = withHealthManager("aggregate", (*HealthManager).HealthHandler)
	LivenessHandler  = withHealthManager("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withHealthManager("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withHealthManager("startup", (*HealthManager).StartupHandler)
)
