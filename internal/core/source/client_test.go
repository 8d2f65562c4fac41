package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crmpulse/crmpulse/internal/core"
)

func TestClientSendsQueryAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2025-03-01", r.URL.Query().Get("from"))
		require.Equal(t, "2025-03-31", r.URL.Query().Get("to"))
		require.Equal(t, "broker-7", r.URL.Query().Get("entity_id"))
		require.Equal(t, "monthly", r.URL.Query().Get("mode"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "acme", r.Header.Get("X-Tenant"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"client_id":"c1","score":0.9}]`))
	}))
	defer server.Close()

	client := &Client{
		Name:    "churn",
		BaseURL: server.URL + "/api/analysis/churn",
		HTTP:    server.Client(),
		Token:   "secret",
		Headers: map[string]string{"X-Tenant": "acme"},
	}

	params := march()
	params.EntityID = "broker-7"
	params.Mode = "monthly"

	var rows []churnRow
	require.NoError(t, client.Get(context.Background(), params, nil, &rows))
	require.Equal(t, []churnRow{{ClientID: "c1", Score: 0.9}}, rows)
}

func TestClientClassifiesStatus(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    core.ErrorKind
		message string
	}{
		{name: "DailyLimit", status: 400, body: `{"message":"Limite diário de análises atingido"}`, kind: core.KindQuotaExceeded, message: "Limite diário de análises atingido"},
		{name: "BusinessRule", status: 400, body: `{"detail":"period too long"}`, kind: core.KindQuotaExceeded, message: "rejected: period too long"},
		{name: "Forbidden", status: 403, kind: core.KindForbidden, message: "forbidden"},
		{name: "NotFound", status: 404, kind: core.KindNotFound, message: "not found"},
		{name: "RateLimited", status: 429, kind: core.KindRateLimited, message: "too many requests"},
		{name: "ServerError", status: 502, body: "upstream down", kind: core.KindTransient, message: "upstream down"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := &Client{Name: "renewals", BaseURL: server.URL, HTTP: server.Client()}
			err := client.Get(context.Background(), march(), nil, &[]churnRow{})

			var srcErr *core.SourceError
			require.True(t, errors.As(err, &srcErr))
			require.Equal(t, tc.kind, srcErr.Kind)
			require.Equal(t, tc.status, srcErr.StatusCode)
			require.Equal(t, tc.message, srcErr.Message)
			require.Equal(t, "renewals", srcErr.Source)
		})
	}
}

func TestClientRecordsRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := &Client{Name: "churn", BaseURL: server.URL, HTTP: server.Client()}
	err := client.Get(context.Background(), march(), nil, nil)

	var srcErr *core.SourceError
	require.True(t, errors.As(err, &srcErr))
	require.Equal(t, 30*time.Second, srcErr.RetryAfter)
}

func TestClientMalformedPayloadIsDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unterminated":`))
	}))
	defer server.Close()

	client := &Client{Name: "churn", BaseURL: server.URL, HTTP: server.Client()}
	err := client.Get(context.Background(), march(), nil, &[]churnRow{})
	require.Equal(t, core.KindDecode, core.KindOf(err))
	require.False(t, core.KindOf(err).Fatal())
}

func TestClientTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := &Client{Name: "churn", BaseURL: server.URL, HTTP: server.Client(), Timeout: 50 * time.Millisecond}
	err := client.Get(context.Background(), march(), nil, nil)
	require.Equal(t, core.KindTransient, core.KindOf(err))
}

func TestClientCanceledParent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &Client{Name: "churn", BaseURL: server.URL, HTTP: server.Client(), Limiter: NewLimiter(1, 1)}
	err := client.Get(ctx, march(), nil, nil)
	require.Equal(t, core.KindCanceled, core.KindOf(err))
}

func TestNewLimiter(t *testing.T) {
	require.Nil(t, NewLimiter(0, 5))
	limiter := NewLimiter(2, 0)
	require.NotNil(t, limiter)
	require.Equal(t, 1, limiter.Burst())
}

func TestPagerWalksAllPages(t *testing.T) {
	var requested []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		require.NoError(t, err)
		require.Equal(t, "2", r.URL.Query().Get("page_size"))
		requested = append(requested, page)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"items":[{"client_id":"p%d-a"},{"client_id":"p%d-b"}],"page":%d,"total_pages":3}`, page, page, page)
	}))
	defer server.Close()

	pager := &Pager[churnRow]{
		Client:   &Client{Name: "clients", BaseURL: server.URL, HTTP: server.Client()},
		PageSize: 2,
	}

	rows, err := pager.FetchAll(context.Background(), march())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, requested)
	require.Len(t, rows, 6)
	require.Equal(t, "p3-b", rows[5].ClientID)
}

func TestPagerFailsWholeWalkOnPageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"client_id":"a"}],"page":1,"total_pages":2}`))
	}))
	defer server.Close()

	pager := &Pager[churnRow]{Client: &Client{Name: "clients", BaseURL: server.URL, HTTP: server.Client()}}
	rows, err := pager.FetchAll(context.Background(), march())
	require.Nil(t, rows)
	require.Equal(t, core.KindTransient, core.KindOf(err))
}

func TestPagerStopsAtMaxPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"client_id":"a"}],"page":1,"total_pages":1000}`))
	}))
	defer server.Close()

	pager := &Pager[churnRow]{Client: &Client{Name: "clients", BaseURL: server.URL, HTTP: server.Client()}, MaxPages: 3}
	_, err := pager.FetchAll(context.Background(), march())
	require.Error(t, err)
	require.Equal(t, core.KindDecode, core.KindOf(err))
}
