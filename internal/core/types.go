package core

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for reporting period boundaries.
const DateLayout = "2006-01-02"

// Params identifies one reporting query shared by every source in a cycle.
type Params struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	EntityID string    `json:"entity_id,omitempty"`
	Mode     string    `json:"mode,omitempty"`
}

// Key returns a stable identifier for the parameter set, used in cache keys
// and to detect parameter changes between triggers.
func (p Params) Key() string {
	var b strings.Builder
	b.WriteString(p.From.UTC().Format(DateLayout))
	b.WriteString("_")
	b.WriteString(p.To.UTC().Format(DateLayout))
	if id := strings.TrimSpace(p.EntityID); id != "" {
		b.WriteString(":e=")
		b.WriteString(id)
	}
	if mode := strings.TrimSpace(p.Mode); mode != "" {
		b.WriteString(":m=")
		b.WriteString(strings.ToLower(mode))
	}
	return b.String()
}

// Validate checks the reporting period.
func (p Params) Validate() error {
	if p.From.IsZero() || p.To.IsZero() {
		return fmt.Errorf("from and to are required")
	}
	if p.To.Before(p.From) {
		return fmt.Errorf("to (%s) is before from (%s)", p.To.Format(DateLayout), p.From.Format(DateLayout))
	}
	return nil
}

// ParseParams builds Params from date strings in DateLayout.
func ParseParams(from, to, entityID, mode string) (Params, error) {
	start, err := time.Parse(DateLayout, strings.TrimSpace(from))
	if err != nil {
		return Params{}, fmt.Errorf("invalid from date: %w", err)
	}
	end, err := time.Parse(DateLayout, strings.TrimSpace(to))
	if err != nil {
		return Params{}, fmt.Errorf("invalid to date: %w", err)
	}
	p := Params{From: start, To: end, EntityID: strings.TrimSpace(entityID), Mode: strings.TrimSpace(mode)}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// RetryState captures the attempt budget of one retry gate.
type RetryState struct {
	AttemptCount int       `json:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt"`
	Blocked      bool      `json:"blocked"`
	// LastKind is the failure kind of the last recorded attempt. It is kept
	// with the state so a restored block still knows its cause.
	LastKind ErrorKind `json:"last_kind,omitempty"`
}

// CacheEntry is a timestamped cached payload.
type CacheEntry[T any] struct {
	Key       string    `json:"key"`
	Data      T         `json:"data"`
	WrittenAt time.Time `json:"written_at"`
}

// Status tags the variant of a SourceResult.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusFresh     Status = "fresh"
	StatusFromCache Status = "from_cache"
	StatusStale     Status = "stale"
	StatusEmpty     Status = "empty"
	StatusFailed    Status = "failed"
)

// HasData reports whether the status carries usable data.
func (s Status) HasData() bool {
	switch s {
	case StatusFresh, StatusFromCache, StatusStale:
		return true
	default:
		return false
	}
}

// SourceResult is the outcome of one fetch cycle for a single source.
type SourceResult[T any] struct {
	Status Status
	Data   T
	// Age is set for FromCache results.
	Age time.Duration
	// Kind is the failure kind for Failed results, and the failure that caused
	// the fallback for FromCache, Stale and Empty results.
	Kind ErrorKind
	// Unchanged marks a Fresh result whose payload equals what was cached.
	Unchanged bool
	Err       error
}

func Fresh[T any](data T, unchanged bool) SourceResult[T] {
	return SourceResult[T]{Status: StatusFresh, Data: data, Unchanged: unchanged}
}

func FromCache[T any](data T, age time.Duration, kind ErrorKind) SourceResult[T] {
	return SourceResult[T]{Status: StatusFromCache, Data: data, Age: age, Kind: kind}
}

func Stale[T any](data T, kind ErrorKind) SourceResult[T] {
	return SourceResult[T]{Status: StatusStale, Data: data, Kind: kind}
}

func Empty[T any](kind ErrorKind) SourceResult[T] {
	return SourceResult[T]{Status: StatusEmpty, Kind: kind}
}

func Failed[T any](kind ErrorKind, err error) SourceResult[T] {
	return SourceResult[T]{Status: StatusFailed, Kind: kind, Err: err}
}

// Erase converts a typed result into one carrying its payload as any.
func (r SourceResult[T]) Erase() SourceResult[any] {
	out := SourceResult[any]{
		Status:    r.Status,
		Age:       r.Age,
		Kind:      r.Kind,
		Unchanged: r.Unchanged,
		Err:       r.Err,
	}
	if r.Status.HasData() {
		out.Data = r.Data
	}
	return out
}
