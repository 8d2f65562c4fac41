package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crmpulse/crmpulse/internal/core"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func newTestGate(clock *fakeClock) *Gate {
	gate := NewGate("churn", DefaultConfig())
	gate.Clock = clock.Now
	gate.Sleep = clock.Sleep
	return gate
}

type memoryStateStore struct {
	state map[string]*core.RetryState
}

func (m *memoryStateStore) GetRetryState(ctx context.Context, source string) (*core.RetryState, error) {
	if m.state == nil {
		return nil, nil
	}
	if val, ok := m.state[source]; ok {
		copied := *val
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryStateStore) UpdateRetryState(ctx context.Context, source string, state *core.RetryState) error {
	if m.state == nil {
		m.state = make(map[string]*core.RetryState)
	}
	copied := *state
	m.state[source] = &copied
	return nil
}

func transient() error {
	return &core.SourceError{Source: "churn", Kind: core.KindTransient, StatusCode: 503}
}

func TestGateTransientThenSuccessResets(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	gate := newTestGate(clock)

	calls := 0
	value, err := Run(context.Background(), gate, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", transient()
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", value)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.sleeps)
	require.Equal(t, core.RetryState{}, gate.State())
}

func TestGateFatalBlocksWithoutBackoff(t *testing.T) {
	fatal := []core.ErrorKind{core.KindQuotaExceeded, core.KindForbidden, core.KindNotFound, core.KindRateLimited}
	for _, kind := range fatal {
		t.Run(string(kind), func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
			gate := newTestGate(clock)

			calls := 0
			err := gate.Do(context.Background(), func(ctx context.Context) error {
				calls++
				return &core.SourceError{Source: "churn", Kind: kind}
			})

			require.Error(t, err)
			require.Equal(t, kind, core.KindOf(err))
			require.Equal(t, 1, calls)
			require.Empty(t, clock.sleeps)

			state := gate.State()
			require.True(t, state.Blocked)
			require.Equal(t, 3, state.AttemptCount)
			require.False(t, gate.CanAttempt())
		})
	}
}

func TestGateRejectsAfterTransientBudgetWithoutIO(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	gate := newTestGate(clock)

	calls := 0
	err := gate.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient()
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	// three attempts within 1s + 2s of backoff
	require.Less(t, clock.now.Sub(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), 10*time.Second)

	require.False(t, gate.CanAttempt())

	err = gate.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.True(t, IsExhausted(err))
	require.Equal(t, core.KindRetryExhausted, core.KindOf(err))
	require.Equal(t, 3, calls)
}

func TestGateReopensExactlyAtWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	gate := newTestGate(clock)

	gate.RecordOutcome(false, core.KindRateLimited)
	require.False(t, gate.CanAttempt())

	clock.now = clock.now.Add(time.Minute - time.Nanosecond)
	require.False(t, gate.CanAttempt())

	clock.now = clock.now.Add(time.Nanosecond)
	require.True(t, gate.CanAttempt())
	require.Equal(t, core.RetryState{}, gate.State())
}

func TestGateWindowResetsUnblockedCount(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	gate := newTestGate(clock)

	gate.RecordOutcome(false, core.KindTransient)
	gate.RecordOutcome(false, core.KindTransient)
	require.Equal(t, 2, gate.State().AttemptCount)
	require.True(t, gate.CanAttempt())

	clock.now = clock.now.Add(time.Minute)
	require.True(t, gate.CanAttempt())
	require.Equal(t, 0, gate.State().AttemptCount)
}

func TestGateCanceledDoesNotSpendBudget(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	gate := newTestGate(clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := gate.Do(ctx, func(ctx context.Context) error {
		return ctx.Err()
	})
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, core.RetryState{}, gate.State())
}

func TestGatePersistsState(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := &memoryStateStore{}

	gate := newTestGate(clock)
	gate.Store = store
	gate.RecordOutcome(false, core.KindQuotaExceeded)
	require.True(t, store.state["churn"].Blocked)

	require.Equal(t, core.KindQuotaExceeded, store.state["churn"].LastKind)

	restarted := newTestGate(clock)
	restarted.Store = store
	require.False(t, restarted.CanAttempt())
	require.Equal(t, core.KindQuotaExceeded, restarted.BlockedBy())

	clock.now = clock.now.Add(time.Minute)
	require.True(t, restarted.CanAttempt())
	require.False(t, store.state["churn"].Blocked)
}

func TestGateBlockedByIgnoresTransientExhaustion(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	gate := newTestGate(clock)
	require.Equal(t, core.ErrorKind(""), gate.BlockedBy())

	for i := 0; i < 3; i++ {
		gate.RecordOutcome(false, core.KindTransient)
	}
	require.True(t, gate.State().Blocked)
	require.Equal(t, core.KindTransient, gate.State().LastKind)
	require.Equal(t, core.ErrorKind(""), gate.BlockedBy())
}

func TestGatesAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	churn := newTestGate(clock)
	brokers := newTestGate(clock)
	brokers.Name = "broker-performance"

	churn.RecordOutcome(false, core.KindRateLimited)
	require.False(t, churn.CanAttempt())
	require.True(t, brokers.CanAttempt())
}

func TestBackoffCapped(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, time.Second, Backoff(cfg, 1))
	require.Equal(t, 2*time.Second, Backoff(cfg, 2))
	require.Equal(t, 4*time.Second, Backoff(cfg, 3))
	require.Equal(t, 5*time.Second, Backoff(cfg, 4))
	require.Equal(t, 5*time.Second, Backoff(cfg, 10))
}
