package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/crmpulse/crmpulse/internal/errors"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/dashboard"
)

// DefaultWaitTimeout caps how long a wait=true request blocks.
const DefaultWaitTimeout = 30 * time.Second

// DashboardHandler serves the aggregated snapshot of one Aggregator.
type DashboardHandler struct {
	Aggregator  *dashboard.Aggregator
	WaitTimeout time.Duration
}

// SourceStatus is the retry gate view of one source.
type SourceStatus struct {
	Name         string    `json:"name"`
	AttemptCount int       `json:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt,omitempty"`
	Blocked      bool      `json:"blocked"`
	CanAttempt   bool      `json:"can_attempt"`
}

// SourcesResponse lists every configured source.
type SourcesResponse struct {
	Sources []SourceStatus `json:"sources"`
}

// Get triggers the requested period (when one is given) and returns the
// latest snapshot. Repeated requests for the same period reuse the cycle.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Aggregator == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("dashboard is not configured"))
		return
	}

	wait, ok := waitRequested(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	from, to := query.Get("from"), query.Get("to")
	if from != "" || to != "" {
		params, err := core.ParseParams(from, to, query.Get("entity_id"), query.Get("mode"))
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid reporting period"))
			return
		}
		h.Aggregator.Ensure(params)
	}

	if wait {
		if err := h.wait(r.Context()); err != nil {
			respondWithError(w, r, apperrors.WrapTimeout(r.Context(), err, "dashboard did not settle in time"))
			return
		}
	}

	writeJSON(w, http.StatusOK, h.Aggregator.Snapshot())
}

// Refresh drops cached entries of the current period and refetches every
// source. The response carries the snapshot published when the refresh
// started; pass wait=true to block until it settles.
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Aggregator == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("dashboard is not configured"))
		return
	}
	wait, ok := waitRequested(w, r)
	if !ok {
		return
	}

	if err := h.Aggregator.Refresh(r.Context()); err != nil {
		switch {
		case errors.Is(err, dashboard.ErrNotTriggered):
			respondWithError(w, r, apperrors.NewConflictError("no reporting period has been requested yet"))
			return
		case errors.Is(err, dashboard.ErrClosed):
			respondWithError(w, r, apperrors.NewServiceUnavailableError("dashboard is shutting down"))
			return
		default:
			// cache removal failures still refetch; report and carry on
			logHandlerWarning(r, "Refresh could not drop every cache entry", err)
		}
	}

	if wait {
		if err := h.wait(r.Context()); err != nil {
			respondWithError(w, r, apperrors.WrapTimeout(r.Context(), err, "dashboard did not settle in time"))
			return
		}
		writeJSON(w, http.StatusOK, h.Aggregator.Snapshot())
		return
	}

	writeJSON(w, http.StatusAccepted, h.Aggregator.Snapshot())
}

// Sources reports the retry gate of every configured source.
func (h *DashboardHandler) Sources(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Aggregator == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("dashboard is not configured"))
		return
	}

	sources := h.Aggregator.Sources()
	resp := SourcesResponse{Sources: make([]SourceStatus, 0, len(sources))}
	for _, src := range sources {
		status := SourceStatus{Name: src.SourceName(), CanAttempt: true}
		if gate := src.RetryGate(); gate != nil {
			state := gate.State()
			status.AttemptCount = state.AttemptCount
			status.LastAttempt = state.LastAttempt
			status.Blocked = state.Blocked
			status.CanAttempt = gate.CanAttempt()
		}
		resp.Sources = append(resp.Sources, status)
	}

	writeJSON(w, http.StatusOK, resp)
}

// CheckHealth reports the aggregator as unhealthy once the last cycle ended
// with no usable data at all.
func (h *DashboardHandler) CheckHealth(ctx context.Context) error {
	if h == nil || h.Aggregator == nil {
		return errors.New("dashboard is not configured")
	}
	if snap := h.Aggregator.Snapshot(); snap.State == dashboard.StateError {
		return errors.New("every source failed")
	}
	return nil
}

// waitRequested parses the wait query flag. It answers 400 and reports false
// when the flag is not a boolean.
func waitRequested(w http.ResponseWriter, r *http.Request) (wait bool, ok bool) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return false, true
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("wait must be true or false"))
		return false, false
	}
	return wait, true
}

func (h *DashboardHandler) wait(ctx context.Context) error {
	timeout := h.WaitTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return h.Aggregator.Wait(waitCtx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
