package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/crmpulse/crmpulse/internal/core"
)

// DefaultTimeout bounds a single remote call when none is configured.
const DefaultTimeout = 15 * time.Second

const maxErrorBody = 4 << 10

// Client calls one remote analysis endpoint.
type Client struct {
	Name    string
	BaseURL string
	HTTP    *http.Client
	// Limiter paces outgoing calls; nil means unpaced.
	Limiter   *rate.Limiter
	Timeout   time.Duration
	Token     string
	Headers   map[string]string
	UserAgent string
}

// NewLimiter builds a token bucket for ratePerSecond. A non-positive rate
// disables pacing.
func NewLimiter(ratePerSecond float64, burst int) *rate.Limiter {
	if ratePerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(ratePerSecond), burst)
}

// Get issues a GET for params plus extra query values and decodes the JSON
// response into out. Failures are returned as *core.SourceError.
func (c *Client) Get(ctx context.Context, params core.Params, extra url.Values, out any) error {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("source client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint, err := c.requestURL(params, extra)
	if err != nil {
		return err
	}

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return c.contextError(ctx, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for key, value := range c.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return c.contextError(ctx, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if kind := core.KindForStatus(resp.StatusCode); kind != core.KindNone {
		return c.statusError(resp, kind)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil || callCtx.Err() != nil {
			return c.contextError(ctx, err)
		}
		return &core.SourceError{
			Source:     c.Name,
			Kind:       core.KindDecode,
			StatusCode: resp.StatusCode,
			Message:    "malformed response payload",
			Err:        err,
		}
	}
	return nil
}

func (c *Client) requestURL(params core.Params, extra url.Values) (string, error) {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", c.BaseURL, err)
	}

	query := parsed.Query()
	query.Set("from", params.From.Format(core.DateLayout))
	query.Set("to", params.To.Format(core.DateLayout))
	if params.EntityID != "" {
		query.Set("entity_id", params.EntityID)
	}
	if params.Mode != "" {
		query.Set("mode", params.Mode)
	}
	for key, values := range extra {
		for i, value := range values {
			if i == 0 {
				query.Set(key, value)
			} else {
				query.Add(key, value)
			}
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// contextError separates a superseded call (parent canceled) from a call
// that ran out of time or hit a transport failure.
func (c *Client) contextError(parent context.Context, err error) error {
	kind := core.KindTransient
	if parent.Err() != nil {
		kind = core.KindOf(parent.Err())
	}
	return &core.SourceError{Source: c.Name, Kind: kind, Err: err}
}

func (c *Client) statusError(resp *http.Response, kind core.ErrorKind) error {
	message := errorMessage(resp.Body)
	if message == "" {
		message = strings.ToLower(http.StatusText(resp.StatusCode))
	}
	// A 400 without a daily limit marker is a business-rule rejection; it
	// is still not worth retrying within the window.
	if kind == core.KindQuotaExceeded && !core.IsDailyLimitMessage(message) {
		message = "rejected: " + message
	}
	srcErr := &core.SourceError{
		Source:     c.Name,
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
	if kind == core.KindRateLimited {
		srcErr.RetryAfter = retryAfterHeader(resp)
	}
	return srcErr
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// errorMessage extracts a human-readable message from an error body. JSON
// bodies with message, detail or error fields are preferred over raw text.
func errorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, candidate := range []string{payload.Message, payload.Detail, payload.Error} {
			if strings.TrimSpace(candidate) != "" {
				return strings.TrimSpace(candidate)
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retry); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		if wait := time.Until(parsed); wait > 0 {
			return wait
		}
	}
	return 0
}
