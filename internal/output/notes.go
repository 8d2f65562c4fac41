package output

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/dashboard"
)

func statusLabel(view dashboard.SourceView) string {
	if view.Loading {
		if view.Status.HasData() {
			return string(view.Status) + " (refreshing)"
		}
		return "loading"
	}
	switch view.Status {
	case core.StatusFromCache:
		return "cached"
	case "":
		return "idle"
	default:
		return string(view.Status)
	}
}

// itemCount reports the number of entries in a source payload, or "-" when
// the payload is not a list.
func itemCount(data any) string {
	if data == nil {
		return "-"
	}
	value := reflect.ValueOf(data)
	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		// raw JSON payloads are byte slices
		if value.Type().Elem().Kind() == reflect.Uint8 {
			return "-"
		}
		return fmt.Sprintf("%d", value.Len())
	}
	return "-"
}

func formatNotes(view dashboard.SourceView) string {
	parts := []string{}
	if view.Hint != "" {
		parts = append(parts, view.Hint)
	}
	if view.ErrorKind != core.KindNone {
		parts = append(parts, "cause: "+string(view.ErrorKind))
	}
	if view.Status == core.StatusFromCache && view.Age > 0 {
		parts = append(parts, "age: "+formatAge(view.Age))
	}
	if view.Unchanged {
		parts = append(parts, "unchanged")
	}
	return strings.Join(parts, "; ")
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return d.Round(time.Second).String()
	case d < time.Hour:
		return d.Round(time.Minute).String()
	default:
		return d.Round(time.Hour).String()
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func periodLabel(params *core.Params) string {
	if params == nil {
		return "no period requested"
	}
	label := params.From.Format(core.DateLayout) + " .. " + params.To.Format(core.DateLayout)
	if params.EntityID != "" {
		label += " entity=" + params.EntityID
	}
	if params.Mode != "" {
		label += " mode=" + params.Mode
	}
	return label
}
