package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/core/retry"
	"github.com/crmpulse/crmpulse/internal/core/source"
	"github.com/crmpulse/crmpulse/internal/dashboard"
)

func staticSource(name string, data []dashboard.ChurnRisk, err error) *source.Fetcher[[]dashboard.ChurnRisk] {
	gate := retry.NewGate(name, retry.Config{MaxAttempts: 1, Window: time.Minute, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	return &source.Fetcher[[]dashboard.ChurnRisk]{
		Name: name,
		Gate: gate,
		Call: func(ctx context.Context, params core.Params) ([]dashboard.ChurnRisk, error) {
			return data, err
		},
	}
}

func newDashboardHandler(t *testing.T, sources ...dashboard.Source) *DashboardHandler {
	t.Helper()
	agg := dashboard.New(dashboard.Options{Sources: sources})
	t.Cleanup(agg.Close)
	return &DashboardHandler{Aggregator: agg, WaitTimeout: 5 * time.Second}
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestDashboardGetWaitsForSettledSnapshot(t *testing.T) {
	h := newDashboardHandler(t, staticSource("churn", []dashboard.ChurnRisk{{ClientID: "c1", Score: 0.9}}, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?from=2025-03-01&to=2025-03-31&wait=true", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeSnapshot(t, rec)
	require.Equal(t, "ready", body["state"])
	churn := body["dashboard"].(map[string]any)["churn"].([]any)
	require.Len(t, churn, 1)
}

func TestDashboardGetWithoutPeriodReturnsIdleSnapshot(t *testing.T) {
	h := newDashboardHandler(t, staticSource("churn", nil, nil))

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "idle", decodeSnapshot(t, rec)["state"])
}

func TestDashboardGetRejectsInvalidPeriod(t *testing.T) {
	h := newDashboardHandler(t, staticSource("churn", nil, nil))

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?from=2025-03-31&to=2025-03-01", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "INVALID_INPUT", resp.Error.Code)
}

func TestDashboardRejectsNonBooleanWait(t *testing.T) {
	h := newDashboardHandler(t, staticSource("churn", nil, nil))

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?from=2025-03-01&to=2025-03-31&wait=soon", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_INPUT")
	// nothing was triggered by the rejected request
	require.Nil(t, h.Aggregator.Snapshot().Params)

	rec = httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/refresh?wait=maybe", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardRefreshBeforeTriggerConflicts(t *testing.T) {
	h := newDashboardHandler(t, staticSource("churn", nil, nil))

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/refresh", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDashboardRefreshRefetches(t *testing.T) {
	h := newDashboardHandler(t, staticSource("churn", []dashboard.ChurnRisk{{ClientID: "c1"}}, nil))

	get := httptest.NewRecorder()
	h.Get(get, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?from=2025-03-01&to=2025-03-31&wait=true", nil))
	require.Equal(t, http.StatusOK, get.Code)
	first := decodeSnapshot(t, get)

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/api/v1/dashboard/refresh?wait=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeSnapshot(t, rec)
	require.Equal(t, "ready", body["state"])
	require.Greater(t, body["sequence"].(float64), first["sequence"].(float64))
}

func TestSourcesReportsGateState(t *testing.T) {
	failing := staticSource("renewals", nil, &core.SourceError{Source: "renewals", Kind: core.KindForbidden, StatusCode: http.StatusForbidden})
	h := newDashboardHandler(t, staticSource("churn", []dashboard.ChurnRisk{}, nil), failing)

	get := httptest.NewRecorder()
	h.Get(get, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?from=2025-03-01&to=2025-03-31&wait=true", nil))
	require.Equal(t, http.StatusOK, get.Code)
	require.Equal(t, "partial", decodeSnapshot(t, get)["state"])

	rec := httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SourcesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Sources, 2)
	require.Equal(t, "churn", resp.Sources[0].Name)
	require.False(t, resp.Sources[0].Blocked)
	require.Equal(t, "renewals", resp.Sources[1].Name)
	require.True(t, resp.Sources[1].Blocked)
	require.False(t, resp.Sources[1].CanAttempt)
}

func TestDashboardCheckHealth(t *testing.T) {
	failing := staticSource("churn", nil, &core.SourceError{Source: "churn", Kind: core.KindNotFound, StatusCode: http.StatusNotFound})
	h := newDashboardHandler(t, failing)
	require.NoError(t, h.CheckHealth(context.Background()))

	h.Aggregator.Trigger(core.Params{From: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Aggregator.Wait(ctx))

	require.Error(t, h.CheckHealth(context.Background()))
}

func TestDashboardHandlerWithoutAggregator(t *testing.T) {
	var h *DashboardHandler

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
