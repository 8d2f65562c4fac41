package dashboard

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crmpulse/crmpulse/internal/core"
)

func TestMergeView(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Minute)
	held := SourceView{Name: "churn", Status: core.StatusFresh, Data: []ChurnRisk{{ClientID: "c1"}}, UpdatedAt: earlier}
	blank := SourceView{Name: "churn", Status: core.StatusIdle, Loading: true}

	t.Run("FreshReplaces", func(t *testing.T) {
		view := mergeView(held, core.Fresh[any]([]ChurnRisk{{ClientID: "c2"}}, false), nil, now)
		require.Equal(t, core.StatusFresh, view.Status)
		require.Equal(t, []ChurnRisk{{ClientID: "c2"}}, view.Data)
		require.Equal(t, now, view.UpdatedAt)
		require.False(t, view.Loading)
		require.Empty(t, view.ErrorKind)
	})

	t.Run("FromCacheCarriesAgeAndCause", func(t *testing.T) {
		view := mergeView(blank, core.FromCache[any]([]ChurnRisk{}, time.Hour, core.KindRateLimited), nil, now)
		require.Equal(t, core.StatusFromCache, view.Status)
		require.Equal(t, time.Hour, view.Age)
		require.Equal(t, core.KindRateLimited, view.ErrorKind)
		require.Equal(t, "please wait", view.Hint)
	})

	t.Run("FailureKeepsHeldData", func(t *testing.T) {
		view := mergeView(held, core.Failed[any](core.KindTransient, errors.New("boom")), nil, now)
		require.Equal(t, core.StatusStale, view.Status)
		require.Equal(t, held.Data, view.Data)
		require.Equal(t, earlier, view.UpdatedAt)
		require.False(t, view.Error)
	})

	t.Run("EmptyKeepsHeldData", func(t *testing.T) {
		view := mergeView(held, core.Empty[any](core.KindQuotaExceeded), []ChurnRisk{}, now)
		require.Equal(t, core.StatusStale, view.Status)
		require.Equal(t, held.Data, view.Data)
	})

	t.Run("EmptyWithoutData", func(t *testing.T) {
		view := mergeView(blank, core.Empty[any](core.KindQuotaExceeded), []ChurnRisk{}, now)
		require.Equal(t, core.StatusEmpty, view.Status)
		require.Equal(t, []ChurnRisk{}, view.Data)
		require.False(t, view.Error)
	})

	t.Run("FailedWithoutData", func(t *testing.T) {
		view := mergeView(blank, core.Failed[any](core.KindRetryExhausted, core.ErrRetryExhausted), nil, now)
		require.Equal(t, core.StatusFailed, view.Status)
		require.True(t, view.Error)
		require.Nil(t, view.Data)
		require.Equal(t, "temporarily paused", view.Hint)
	})
}

func TestOverallState(t *testing.T) {
	fresh := SourceView{Status: core.StatusFresh, Data: []ChurnRisk{}}
	cached := SourceView{Status: core.StatusFromCache, Data: []ChurnRisk{}}
	stale := SourceView{Status: core.StatusStale, Data: []ChurnRisk{}}
	empty := SourceView{Status: core.StatusEmpty}
	failed := SourceView{Status: core.StatusFailed, Error: true}
	loading := SourceView{Status: core.StatusIdle, Loading: true}

	cases := []struct {
		name      string
		views     []SourceView
		triggered bool
		want      State
	}{
		{name: "NotTriggered", views: []SourceView{loading}, want: StateIdle},
		{name: "AllLoading", views: []SourceView{loading, loading}, triggered: true, want: StateLoading},
		{name: "FreshAndCached", views: []SourceView{fresh, cached, empty}, triggered: true, want: StateReady},
		{name: "SomeData", views: []SourceView{fresh, loading}, triggered: true, want: StatePartial},
		{name: "StaleIsPartial", views: []SourceView{fresh, stale}, triggered: true, want: StatePartial},
		{name: "DataAndFailure", views: []SourceView{cached, failed}, triggered: true, want: StatePartial},
		{name: "FailedWhileLoading", views: []SourceView{failed, loading}, triggered: true, want: StateLoading},
		{name: "AllFailedOrEmpty", views: []SourceView{failed, empty}, triggered: true, want: StateError},
		{name: "AllEmpty", views: []SourceView{empty, empty}, triggered: true, want: StateReady},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, overallState(tc.views, tc.triggered))
		})
	}
}

func TestSnapshotJSON(t *testing.T) {
	params := period(time.March)
	snap := &Snapshot{
		ID:       "snap-1",
		Sequence: 3,
		State:    StatePartial,
		Params:   &params,
		Sources: []SourceView{
			{Name: "broker-performance", Status: core.StatusEmpty, Data: []BrokerPerformance{}},
		},
		Dashboard: buildDashboard(nil),
	}

	encoded, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, "partial", decoded["state"])
	dashboard := decoded["dashboard"].(map[string]any)
	require.Equal(t, []any{}, dashboard["churn"])
	sources := decoded["sources"].([]any)
	require.Equal(t, []any{}, sources[0].(map[string]any)["data"])
}

func TestBuildDashboardByPayloadType(t *testing.T) {
	d := buildDashboard([]SourceView{
		{Name: "churn", Data: []ChurnRisk{{ClientID: "c1"}}},
		{Name: "clients", Data: []Client{{ID: "x"}}},
		{Name: "pipeline", Data: json.RawMessage(`{"open":3}`)},
		{Name: "renewals", Data: nil},
	})
	require.Len(t, d.Churn, 1)
	require.Len(t, d.Clients, 1)
	require.NotNil(t, d.Renewals)
	require.JSONEq(t, `{"open":3}`, string(d.Extra["pipeline"]))
}
