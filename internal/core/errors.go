package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies a source failure.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindTransient      ErrorKind = "transient"
	KindRateLimited    ErrorKind = "rate_limited"
	KindQuotaExceeded  ErrorKind = "quota_exceeded"
	KindNotFound       ErrorKind = "not_found"
	KindForbidden      ErrorKind = "forbidden"
	KindRetryExhausted ErrorKind = "retry_exhausted"
	KindCanceled       ErrorKind = "canceled"
	KindDecode         ErrorKind = "decode"
)

// Fatal reports whether retrying an error of this kind is pointless.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindRateLimited, KindQuotaExceeded, KindNotFound, KindForbidden:
		return true
	default:
		return false
	}
}

// Hint returns the user-facing wording for a kind.
func (k ErrorKind) Hint() string {
	switch k {
	case KindRateLimited:
		return "please wait"
	case KindQuotaExceeded:
		return "try again tomorrow"
	case KindForbidden:
		return "plan not active"
	case KindNotFound:
		return "not found"
	case KindRetryExhausted:
		return "temporarily paused"
	case KindNone:
		return ""
	default:
		return "temporarily unavailable"
	}
}

// ErrRetryExhausted is returned when a gate refuses an attempt.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// SourceError is a classified failure of a remote analysis call.
type SourceError struct {
	Source     string
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *SourceError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is matches another *SourceError by kind, so errors.Is(err,
// &SourceError{Kind: KindNotFound}) works regardless of source.
func (e *SourceError) Is(target error) bool {
	t, ok := target.(*SourceError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Source == "" || t.Source == e.Source)
}

// KindOf classifies any error into the taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrRetryExhausted) {
		return KindRetryExhausted
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// dailyLimitMarkers are body fragments the analysis endpoints use to report
// an exhausted daily quota on a 400 response.
var dailyLimitMarkers = []string{"limite diário", "limite diario", "daily limit", "quota"}

// IsDailyLimitMessage reports whether a 400 body message describes a daily quota.
func IsDailyLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range dailyLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// KindForStatus maps an HTTP status code to an error kind. 2xx maps to KindNone.
func KindForStatus(status int) ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return KindNone
	case status == http.StatusBadRequest:
		return KindQuotaExceeded
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindTransient
	}
}
