package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/dashboard"
)

func sampleSnapshot() *dashboard.Snapshot {
	params := core.Params{
		From: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Mode: "monthly",
	}
	updated := time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)
	churn := []dashboard.ChurnRisk{{ClientID: "c1", ClientName: "Acme", Score: 0.9, Tier: "high"}}
	brokers := []dashboard.BrokerPerformance{}
	return &dashboard.Snapshot{
		ID:       "snap-1",
		Sequence: 4,
		State:    dashboard.StatePartial,
		Params:   &params,
		Sources: []dashboard.SourceView{
			{Name: "churn", Status: core.StatusFromCache, Data: churn, Age: 2 * time.Hour, ErrorKind: core.KindTransient, Hint: "temporarily unavailable", UpdatedAt: updated},
			{Name: "broker-performance", Status: core.StatusEmpty, Data: brokers, ErrorKind: core.KindQuotaExceeded, Hint: "try again tomorrow"},
			{Name: "renewals", Status: core.StatusFailed, Error: true, ErrorKind: core.KindForbidden, Hint: "plan not active"},
			{Name: "clients", Status: core.StatusIdle, Loading: true},
		},
		Dashboard: dashboard.Dashboard{Churn: churn, Brokers: brokers, Renewals: []dashboard.Renewal{}, Clients: []dashboard.Client{}},
		Stats: dashboard.Stats{
			ChurnByTier:       map[string]int{"high": 1, "medium": 0, "low": 0},
			AverageChurnScore: 0.9,
			TopBrokers:        []dashboard.BrokerPerformance{},
			ClientsByStatus:   map[string]int{},
		},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("yml")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestSnapshotTable(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatSnapshot(sampleSnapshot())
	require.NoError(t, err)

	require.Contains(t, rendered, "SOURCE")
	require.Contains(t, rendered, "2025-03-01 .. 2025-03-31 mode=monthly")
	require.Contains(t, rendered, "cached")
	require.Contains(t, rendered, "age: 2h0m0s")
	require.Contains(t, rendered, "try again tomorrow")
	require.Contains(t, rendered, "loading")
	require.Contains(t, strings.ToLower(rendered), "partial")

	require.Contains(t, rendered, "Churn:")
	require.Contains(t, rendered, "By tier: high=1, low=0, medium=0")
	// sources without data get no statistics section
	require.NotContains(t, rendered, "Brokers:")
	require.NotContains(t, rendered, "Renewals:")
}

func TestSnapshotJSON(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatSnapshot(sampleSnapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, "partial", decoded["state"])
	sources := decoded["sources"].([]any)
	require.Equal(t, []any{}, sources[1].(map[string]any)["data"])
}

func TestSnapshotYAMLUsesJSONNames(t *testing.T) {
	rendered, err := NewFormatter(FormatYAML).FormatSnapshot(sampleSnapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, "partial", decoded["state"])
	require.Contains(t, rendered, "broker_performance:")
	require.Contains(t, rendered, "error_kind: quota_exceeded")
}

func TestSnapshotMarkdown(t *testing.T) {
	snap := sampleSnapshot()
	snap.Sources[0].Hint = "a|b"

	rendered, err := NewFormatter(FormatMarkdown).FormatSnapshot(snap)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "## Dashboard "))
	require.Contains(t, rendered, "| Source | Status | Items | Notes |")
	require.Contains(t, rendered, "a\\|b")
	require.Contains(t, rendered, "### Churn")
}

func TestNilSnapshot(t *testing.T) {
	for _, format := range []Format{FormatTable, FormatJSON, FormatYAML, FormatMarkdown} {
		rendered, err := NewFormatter(format).FormatSnapshot(nil)
		require.NoError(t, err)
		require.Empty(t, rendered)
	}
}

func TestCacheEntries(t *testing.T) {
	entries := []CacheRow{
		{Key: "churn:2025-03-01_2025-03-31", WrittenAt: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), Age: 90 * time.Minute, Bytes: 120},
	}

	rendered, err := NewFormatter(FormatTable).FormatCacheEntries(entries)
	require.NoError(t, err)
	require.Contains(t, rendered, "churn:2025-03-01_2025-03-31")
	require.Contains(t, strings.ToLower(rendered), "1 entries")

	rendered, err = NewFormatter(FormatJSON).FormatCacheEntries(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}

func TestRetryStates(t *testing.T) {
	states := []RetryRow{
		{Source: "churn", CanAttempt: true},
		{Source: "renewals", AttemptCount: 3, Blocked: true, LastAttempt: time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)},
	}

	rendered, err := NewFormatter(FormatTable).FormatRetryStates(states)
	require.NoError(t, err)
	require.Contains(t, rendered, "renewals")
	require.Contains(t, rendered, "2025-03-15T08:00:00Z")

	rendered, err = NewFormatter(FormatYAML).FormatRetryStates(states)
	require.NoError(t, err)
	require.Contains(t, rendered, "blocked: true")
	require.Contains(t, rendered, "attempt_count: 3")
}

func TestItemCount(t *testing.T) {
	require.Equal(t, "-", itemCount(nil))
	require.Equal(t, "2", itemCount([]dashboard.Client{{}, {}}))
	require.Equal(t, "-", itemCount(json.RawMessage(`{"open":3}`)))
}

func TestStatusLabel(t *testing.T) {
	require.Equal(t, "loading", statusLabel(dashboard.SourceView{Loading: true}))
	require.Equal(t, "fresh (refreshing)", statusLabel(dashboard.SourceView{Loading: true, Status: core.StatusFresh}))
	require.Equal(t, "cached", statusLabel(dashboard.SourceView{Status: core.StatusFromCache}))
	require.Equal(t, "empty", statusLabel(dashboard.SourceView{Status: core.StatusEmpty}))
}
