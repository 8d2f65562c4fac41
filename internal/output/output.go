package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/crmpulse/crmpulse/internal/dashboard"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders dashboard data.
type Formatter interface {
	FormatSnapshot(snap *dashboard.Snapshot) (string, error)
	FormatCacheEntries(entries []CacheRow) (string, error)
	FormatRetryStates(states []RetryRow) (string, error)
}

// CacheRow describes one result cache entry.
type CacheRow struct {
	Key       string        `json:"key" yaml:"key"`
	WrittenAt time.Time     `json:"written_at" yaml:"written_at"`
	Age       time.Duration `json:"age" yaml:"age"`
	Bytes     int           `json:"bytes" yaml:"bytes"`
}

// RetryRow describes the retry gate of one source.
type RetryRow struct {
	Source       string    `json:"source" yaml:"source"`
	AttemptCount int       `json:"attempt_count" yaml:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt,omitempty" yaml:"last_attempt,omitempty"`
	Blocked      bool      `json:"blocked" yaml:"blocked"`
	CanAttempt   bool      `json:"can_attempt" yaml:"can_attempt"`
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}
