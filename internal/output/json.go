package output

import (
	"encoding/json"

	"github.com/crmpulse/crmpulse/internal/dashboard"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatSnapshot renders a snapshot as JSON.
func (f *JSONFormatter) FormatSnapshot(snap *dashboard.Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}
	return f.encode(snap)
}

// FormatCacheEntries renders cache entries as a JSON array.
func (f *JSONFormatter) FormatCacheEntries(entries []CacheRow) (string, error) {
	if entries == nil {
		entries = []CacheRow{}
	}
	return f.encode(entries)
}

// FormatRetryStates renders gate states as a JSON array.
func (f *JSONFormatter) FormatRetryStates(states []RetryRow) (string, error) {
	if states == nil {
		states = []RetryRow{}
	}
	return f.encode(states)
}

func (f *JSONFormatter) encode(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
