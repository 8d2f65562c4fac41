package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/metrics"
)

// Config bounds the attempts a gate allows per window.
type Config struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DefaultConfig returns the default budget: 3 attempts per minute, backoff 1s doubling up to 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Window:      time.Minute,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// StateStore persists gate state between process runs.
type StateStore interface {
	GetRetryState(ctx context.Context, source string) (*core.RetryState, error)
	UpdateRetryState(ctx context.Context, source string, state *core.RetryState) error
}

// Gate is a time-windowed attempt limiter for one logical caller.
// Each source owns its own gate; budgets are never shared.
type Gate struct {
	Name   string
	Config Config
	Store  StateStore
	Clock  func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger core.Logger

	mu     sync.Mutex
	state  core.RetryState
	loaded bool
}

// NewGate creates a gate with the given budget.
func NewGate(name string, cfg Config) *Gate {
	return &Gate{Name: name, Config: cfg}
}

// CanAttempt reports whether a network attempt is currently allowed. A gate
// whose window has elapsed since the last attempt is reset first.
func (g *Gate) CanAttempt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loadLocked(context.Background())
	return g.canAttemptLocked(context.Background())
}

// State returns a copy of the current state.
func (g *Gate) State() core.RetryState {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loadLocked(context.Background())
	return g.state
}

// RecordOutcome applies the result of one attempt to the budget.
func (g *Gate) RecordOutcome(success bool, kind core.ErrorKind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx := context.Background()
	g.loadLocked(ctx)
	if success {
		g.resetLocked(ctx)
		return
	}
	g.recordFailureLocked(ctx, kind)
}

// Do runs op under the gate. Fatal failures block the gate immediately;
// transient failures are retried with capped exponential backoff until the
// budget is spent. A refused attempt never calls op.
func (g *Gate) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := g.Config.withDefaults()
	logger := core.LoggerOrNop(g.Logger)

	for {
		g.mu.Lock()
		g.loadLocked(ctx)
		if !g.canAttemptLocked(ctx) {
			state := g.state
			g.mu.Unlock()
			logger.Debug("Retry gate closed, skipping network call",
				zap.String("source", g.Name),
				zap.Int("attempts", state.AttemptCount),
				zap.Time("last_attempt", state.LastAttempt))
			return &core.SourceError{Source: g.Name, Kind: core.KindRetryExhausted, Err: core.ErrRetryExhausted}
		}
		g.mu.Unlock()

		err := op(ctx)
		if err == nil {
			g.mu.Lock()
			g.resetLocked(ctx)
			g.mu.Unlock()
			return nil
		}

		kind := core.KindOf(err)
		if kind == core.KindCanceled || ctx.Err() != nil {
			// Superseded calls do not spend budget.
			return err
		}

		g.mu.Lock()
		g.recordFailureLocked(ctx, kind)
		state := g.state
		g.mu.Unlock()

		if kind.Fatal() {
			logger.Warn("Fatal source error, gate blocked",
				zap.String("source", g.Name),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return err
		}
		if state.Blocked {
			logger.Warn("Retry budget exhausted, gate blocked",
				zap.String("source", g.Name),
				zap.Int("attempts", state.AttemptCount),
				zap.Duration("window", cfg.Window),
				zap.Error(err))
			return err
		}

		delay := Backoff(cfg, state.AttemptCount)
		logger.Warn("Transient source error, backing off",
			zap.String("source", g.Name),
			zap.Int("attempt", state.AttemptCount),
			zap.Duration("delay", delay),
			zap.Error(err))
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

// Run is Do for operations producing a value.
func Run[T any](ctx context.Context, g *Gate, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		value, err := op(ctx)
		if err != nil {
			return err
		}
		out = value
		return nil
	})
	return out, err
}

// Backoff returns min(base * 2^(attempt-1), max).
func Backoff(cfg Config, attempt int) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

func (g *Gate) canAttemptLocked(ctx context.Context) bool {
	cfg := g.Config.withDefaults()
	if !g.state.LastAttempt.IsZero() && g.now().Sub(g.state.LastAttempt) >= cfg.Window {
		g.resetLocked(ctx)
		return true
	}
	return !g.state.Blocked
}

func (g *Gate) recordFailureLocked(ctx context.Context, kind core.ErrorKind) {
	cfg := g.Config.withDefaults()
	g.state.LastAttempt = g.now()
	g.state.LastKind = kind
	if kind.Fatal() {
		g.state.AttemptCount = cfg.MaxAttempts
		g.state.Blocked = true
	} else {
		g.state.AttemptCount++
		if g.state.AttemptCount >= cfg.MaxAttempts {
			g.state.Blocked = true
		}
	}
	if g.state.Blocked {
		metrics.RecordRetryBlocked(g.Name, string(kind))
	}
	g.persistLocked(ctx)
}

func (g *Gate) resetLocked(ctx context.Context) {
	if g.state == (core.RetryState{}) {
		return
	}
	g.state = core.RetryState{}
	g.persistLocked(ctx)
}

func (g *Gate) loadLocked(ctx context.Context) {
	if g.loaded {
		return
	}
	g.loaded = true
	if g.Store == nil {
		return
	}
	state, err := g.Store.GetRetryState(ctx, g.Name)
	if err != nil {
		core.LoggerOrNop(g.Logger).Warn("Failed to load retry state",
			zap.String("source", g.Name), zap.Error(err))
		return
	}
	if state != nil {
		g.state = *state
	}
}

func (g *Gate) persistLocked(ctx context.Context) {
	if g.Store == nil {
		return
	}
	state := g.state
	if err := g.Store.UpdateRetryState(context.WithoutCancel(ctx), g.Name, &state); err != nil {
		core.LoggerOrNop(g.Logger).Warn("Failed to persist retry state",
			zap.String("source", g.Name), zap.Error(err))
	}
}

func (g *Gate) now() time.Time {
	if g != nil && g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

func (g *Gate) sleep(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BlockedBy returns the fatal kind that blocked the gate, or "" when the gate
// is open or was blocked by exhausted transient failures.
func (g *Gate) BlockedBy() core.ErrorKind {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loadLocked(context.Background())
	if g.state.Blocked && g.state.LastKind.Fatal() {
		return g.state.LastKind
	}
	return ""
}

// IsExhausted reports whether err is a gate refusal.
func IsExhausted(err error) bool {
	return errors.Is(err, core.ErrRetryExhausted)
}
