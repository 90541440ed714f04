package activity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/foxzi/followup/internal/api"
)

// Placeholder stands in for a missing detail field
const Placeholder = "—"

// RenderFunc turns an entry's details into a display string. details may
// be nil.
type RenderFunc func(details map[string]any) string

var (
	renderMu  sync.RWMutex
	renderers = map[string]RenderFunc{
		"classified": func(d map[string]any) string {
			return fmt.Sprintf("Target %s defined as [%s]", field(d, "lead_name"), strings.ToUpper(field(d, "new_status")))
		},
		"sent_email": func(d map[string]any) string {
			return fmt.Sprintf("Cycle %s dispatched to %s", field(d, "mode"), field(d, "lead_name"))
		},
		"custom_email_sent": func(d map[string]any) string {
			return fmt.Sprintf("Direct Uplink: \"%s\" delivered to %s", field(d, "subject"), field(d, "lead_name"))
		},
		"started_discovery": func(d map[string]any) string {
			return fmt.Sprintf("Deep Scan: Initialized search for \"%s\"", field(d, "search_query"))
		},
		"error": func(d map[string]any) string {
			msg := field(d, "error_message")
			if msg == Placeholder {
				msg = field(d, "error")
			}
			return "!! CRITICAL_FAIL: " + msg
		},
	}
)

// Register adds or replaces the renderer for an action type
func Register(actionType string, fn RenderFunc) {
	renderMu.Lock()
	defer renderMu.Unlock()
	renderers[actionType] = fn
}

// Render returns the display string for an entry. Unknown action types
// render as the upper-cased tag.
func Render(entry api.ActivityLog) string {
	renderMu.RLock()
	fn, ok := renderers[entry.ActionType]
	renderMu.RUnlock()
	if !ok {
		return strings.ToUpper(entry.ActionType)
	}
	return fn(entry.Details)
}

// Line renders an entry prefixed with its HH:MM:SS.mmm timestamp
func Line(entry api.ActivityLog) string {
	ts := "--:--:--.---"
	if !entry.CreatedAt.IsZero() {
		ts = entry.CreatedAt.Format("15:04:05.000")
	}
	return ts + " " + Render(entry)
}

func field(d map[string]any, key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return Placeholder
	}
	s, isString := v.(string)
	if !isString {
		return fmt.Sprint(v)
	}
	if s == "" {
		return Placeholder
	}
	return s
}
