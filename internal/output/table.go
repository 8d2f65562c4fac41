package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/crmpulse/crmpulse/internal/dashboard"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatSnapshot renders one row per source followed by derived statistics.
func (f *TableFormatter) FormatSnapshot(snap *dashboard.Snapshot) (string, error) {
	if snap == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Dashboard %s", periodLabel(snap.Params)))
	t.AppendHeader(table.Row{"Source", "Status", "Items", "Updated", "Notes"})

	for _, view := range snap.Sources {
		t.AppendRow(table.Row{
			view.Name,
			statusLabel(view),
			itemCount(view.Data),
			formatTime(view.UpdatedAt),
			formatNotes(view),
		})
	}

	t.AppendFooter(table.Row{
		"",
		string(snap.State),
		"",
		fmt.Sprintf("#%d", snap.Sequence),
		"",
	})

	rendered := t.Render()
	rendered += renderStatsSections(statsSections(snap), false)
	return rendered, nil
}

// FormatCacheEntries renders cache entries as a table.
func (f *TableFormatter) FormatCacheEntries(entries []CacheRow) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Key", "Written", "Age", "Bytes"})

	for _, entry := range entries {
		t.AppendRow(table.Row{
			entry.Key,
			formatTime(entry.WrittenAt),
			formatAge(entry.Age),
			entry.Bytes,
		})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d entries", len(entries)), "", "", ""})

	return t.Render(), nil
}

// FormatRetryStates renders gate states as a table.
func (f *TableFormatter) FormatRetryStates(states []RetryRow) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Source", "Attempts", "Last Attempt", "Blocked", "Can Attempt"})

	for _, state := range states {
		t.AppendRow(table.Row{
			state.Source,
			state.AttemptCount,
			formatTime(state.LastAttempt),
			yesNo(state.Blocked),
			yesNo(state.CanAttempt),
		})
	}

	return t.Render(), nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
