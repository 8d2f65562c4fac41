package dashboard

import (
	"time"

	"github.com/crmpulse/crmpulse/internal/core"
)

// State is the overall dashboard state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StatePartial State = "partial"
	StateError   State = "error"
)

// SourceView is what a consumer sees of one source.
type SourceView struct {
	Name      string         `json:"name"`
	Status    core.Status    `json:"status"`
	Loading   bool           `json:"loading"`
	Data      any            `json:"data"`
	Age       time.Duration  `json:"age,omitempty"`
	ErrorKind core.ErrorKind `json:"error_kind,omitempty"`
	Hint      string         `json:"hint,omitempty"`
	// Error is set only for Failed sources; Empty and Stale are not errors.
	Error     bool      `json:"error"`
	Unchanged bool      `json:"unchanged,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Snapshot is an immutable view of the aggregated dashboard. A new Snapshot
// replaces the previous one on every merge step.
type Snapshot struct {
	ID          string       `json:"id"`
	Sequence    uint64       `json:"sequence"`
	Generation  uint64       `json:"generation"`
	State       State        `json:"state"`
	Params      *core.Params `json:"params,omitempty"`
	Sources     []SourceView `json:"sources"`
	Dashboard   Dashboard    `json:"dashboard"`
	Stats       Stats        `json:"stats"`
	PublishedAt time.Time    `json:"published_at"`
}

// Source returns the view of the named source.
func (s *Snapshot) Source(name string) (SourceView, bool) {
	if s == nil {
		return SourceView{}, false
	}
	for _, view := range s.Sources {
		if view.Name == name {
			return view, true
		}
	}
	return SourceView{}, false
}

// Loading reports whether any source is still in flight.
func (s *Snapshot) Loading() bool {
	if s == nil {
		return false
	}
	for _, view := range s.Sources {
		if view.Loading {
			return true
		}
	}
	return false
}

// mergeView applies a settled result to the previous view of the same
// generation. Data already shown is never dropped because a later attempt
// failed or came back empty.
func mergeView(prev SourceView, result core.SourceResult[any], emptyValue any, now time.Time) SourceView {
	view := SourceView{Name: prev.Name, UpdatedAt: now}

	switch result.Status {
	case core.StatusFresh, core.StatusFromCache, core.StatusStale:
		view.Status = result.Status
		view.Data = result.Data
		view.Age = result.Age
		view.Unchanged = result.Unchanged
		if result.Status != core.StatusFresh {
			view.ErrorKind = result.Kind
		}
	case core.StatusEmpty, core.StatusFailed:
		view.ErrorKind = result.Kind
		switch {
		case prev.Status.HasData():
			view.Status = core.StatusStale
			view.Data = prev.Data
			view.Age = prev.Age
			view.UpdatedAt = prev.UpdatedAt
		case result.Status == core.StatusEmpty:
			view.Status = core.StatusEmpty
			view.Data = emptyValue
		default:
			view.Status = core.StatusFailed
			view.Error = true
		}
	default:
		return prev
	}

	view.Hint = view.ErrorKind.Hint()
	return view
}

// overallState folds source views into the dashboard state.
func overallState(views []SourceView, triggered bool) State {
	if !triggered {
		return StateIdle
	}

	var (
		hasData  bool
		complete = true
		loading  bool
		failed   bool
	)
	for _, view := range views {
		if view.Loading {
			loading = true
		}
		if view.Status.HasData() {
			hasData = true
		}
		switch view.Status {
		case core.StatusFresh, core.StatusFromCache, core.StatusEmpty:
		default:
			complete = false
		}
		if view.Status == core.StatusFailed {
			failed = true
		}
	}

	switch {
	case len(views) == 0:
		return StateReady
	case complete:
		return StateReady
	case hasData:
		return StatePartial
	case loading:
		return StateLoading
	case failed:
		return StateError
	default:
		return StateLoading
	}
}
