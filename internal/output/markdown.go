package output

import (
	"fmt"
	"strings"

	"github.com/crmpulse/crmpulse/internal/dashboard"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatSnapshot renders a snapshot as Markdown.
func (f *MarkdownFormatter) FormatSnapshot(snap *dashboard.Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Dashboard %s\n\n", escapeMarkdownCell(periodLabel(snap.Params))))
	sb.WriteString("| Source | Status | Items | Notes |\n")
	sb.WriteString("|--------|--------|-------|-------|\n")

	for _, view := range snap.Sources {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			escapeMarkdownCell(view.Name),
			escapeMarkdownCell(statusLabel(view)),
			itemCount(view.Data),
			escapeMarkdownCell(formatNotes(view)),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**State**: %s\n", snap.State))
	sb.WriteString(renderStatsSections(statsSections(snap), true))
	return sb.String(), nil
}

// FormatCacheEntries renders cache entries as Markdown.
func (f *MarkdownFormatter) FormatCacheEntries(entries []CacheRow) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Key | Written | Age | Bytes |\n")
	sb.WriteString("|-----|---------|-----|-------|\n")
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n",
			escapeMarkdownCell(entry.Key),
			formatTime(entry.WrittenAt),
			formatAge(entry.Age),
			entry.Bytes,
		))
	}
	return sb.String(), nil
}

// FormatRetryStates renders gate states as Markdown.
func (f *MarkdownFormatter) FormatRetryStates(states []RetryRow) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Source | Attempts | Last Attempt | Blocked | Can Attempt |\n")
	sb.WriteString("|--------|----------|--------------|---------|-------------|\n")
	for _, state := range states {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s |\n",
			escapeMarkdownCell(state.Source),
			state.AttemptCount,
			formatTime(state.LastAttempt),
			yesNo(state.Blocked),
			yesNo(state.CanAttempt),
		))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
