package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type brokerRow struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func TestResultCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(NewMemoryKV())
	c.Clock = func() time.Time { return now }

	rows := []brokerRow{{ID: "b1", Score: 91.5}, {ID: "b2", Score: 40}}
	require.NoError(t, Put(ctx, c, "broker-performance:2025-02-01_2025-02-28", rows))

	entry, ok := Load[[]brokerRow](ctx, c, "broker-performance:2025-02-01_2025-02-28")
	require.True(t, ok)
	require.Equal(t, rows, entry.Data)
	require.Equal(t, now, entry.WrittenAt)
	require.Equal(t, "broker-performance:2025-02-01_2025-02-28", entry.Key)
}

func TestResultCachePutOverwrites(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(NewMemoryKV())
	c.Clock = func() time.Time { return now }

	require.NoError(t, Put(ctx, c, "churn", []string{"a"}))
	now = now.Add(time.Hour)
	require.NoError(t, Put(ctx, c, "churn", []string{"b"}))

	entry, ok := Load[[]string](ctx, c, "churn")
	require.True(t, ok)
	require.Equal(t, []string{"b"}, entry.Data)
	require.Equal(t, now, entry.WrittenAt)
}

func TestResultCacheIsEquivalent(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryKV())

	require.False(t, c.IsEquivalent(ctx, "churn", []brokerRow{}))

	require.NoError(t, Put(ctx, c, "churn", []brokerRow{{ID: "b1", Score: 1}}))
	require.True(t, c.IsEquivalent(ctx, "churn", []brokerRow{{ID: "b1", Score: 1}}))
	require.False(t, c.IsEquivalent(ctx, "churn", []brokerRow{{ID: "b1", Score: 2}}))

	// equivalence never blocks a write
	require.NoError(t, Put(ctx, c, "churn", []brokerRow{{ID: "b1", Score: 1}}))
}

func TestResultCacheRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	c := New(kv)

	require.NoError(t, Put(ctx, c, "churn:p1", 1))
	require.NoError(t, Put(ctx, c, "renewals:p1", 2))
	require.NoError(t, kv.Set(ctx, "unrelated", "x"))

	require.NoError(t, c.Remove(ctx, "churn:p1"))
	_, ok := c.Get(ctx, "churn:p1")
	require.False(t, ok)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"renewals:p1"}, keys)

	removed, err := c.Clear(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, _ = kv.Get(ctx, "unrelated")
	require.True(t, ok)
}

func TestResultCacheMaxAge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(NewMemoryKV())
	c.Clock = func() time.Time { return now }
	c.MaxAge = time.Hour

	require.NoError(t, Put(ctx, c, "churn", 1))
	now = now.Add(59 * time.Minute)
	_, ok := c.Get(ctx, "churn")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "churn")
	require.False(t, ok)
}

func TestResultCacheIgnoresCorruptEntries(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	c := New(kv)

	require.NoError(t, kv.Set(ctx, DefaultPrefix+"churn", "{not json"))
	_, ok := c.Get(ctx, "churn")
	require.False(t, ok)
}

type failingKV struct {
	*MemoryKV
	failSet bool
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func TestTieredKVWriteThroughAndBackfill(t *testing.T) {
	ctx := context.Background()
	persistent := &failingKV{MemoryKV: NewMemoryKV()}
	tiered := NewTieredKV(persistent)

	require.NoError(t, tiered.Set(ctx, "k", "v1"))
	value, ok, err := persistent.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", value)

	// a value only present in the durable tier is served and backfilled
	require.NoError(t, persistent.MemoryKV.Set(ctx, "other", "v2"))
	value, ok, err = tiered.Get(ctx, "other")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", value)
	_, ok, _ = tiered.memory.Get(ctx, "other")
	require.True(t, ok)

	// a failed durable write leaves memory untouched
	persistent.failSet = true
	require.Error(t, tiered.Set(ctx, "k", "v3"))
	value, _, _ = tiered.Get(ctx, "k")
	require.Equal(t, "v1", value)

	require.NoError(t, tiered.Remove(ctx, "k"))
	_, ok, _ = tiered.Get(ctx, "k")
	require.False(t, ok)
}
