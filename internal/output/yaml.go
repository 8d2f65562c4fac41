package output

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/crmpulse/crmpulse/internal/dashboard"
)

// YAMLFormatter renders results as YAML.
type YAMLFormatter struct{}

// FormatSnapshot renders a snapshot as YAML. Field names follow the JSON
// representation so both formats read the same.
func (f *YAMLFormatter) FormatSnapshot(snap *dashboard.Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}
	return encodeYAMLViaJSON(snap)
}

// FormatCacheEntries renders cache entries as YAML.
func (f *YAMLFormatter) FormatCacheEntries(entries []CacheRow) (string, error) {
	if entries == nil {
		entries = []CacheRow{}
	}
	return encodeYAML(entries)
}

// FormatRetryStates renders gate states as YAML.
func (f *YAMLFormatter) FormatRetryStates(states []RetryRow) (string, error) {
	if states == nil {
		states = []RetryRow{}
	}
	return encodeYAML(states)
}

// encodeYAMLViaJSON reuses JSON tags for types carrying payloads of unknown
// shape, which yaml.v3 would otherwise name after Go fields.
func encodeYAMLViaJSON(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("decode intermediate json: %w", err)
	}
	return encodeYAML(generic)
}

func encodeYAML(value any) (string, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
