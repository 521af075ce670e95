// Package timespec parses the --since/--until flags of the gambit CLI.
package timespec

import (
	"fmt"
	"time"
)

// Window is a closed time range in Unix milliseconds. A zero bound is open.
type Window struct {
	SinceMs int64
	UntilMs int64
}

// Contains reports whether ms falls inside the window.
func (w Window) Contains(ms int64) bool {
	if w.SinceMs > 0 && ms < w.SinceMs {
		return false
	}
	if w.UntilMs > 0 && ms > w.UntilMs {
		return false
	}
	return true
}

// IsOpen reports whether the window has no bounds at all.
func (w Window) IsOpen() bool {
	return w.SinceMs == 0 && w.UntilMs == 0
}

// Parse converts a time specification into Unix milliseconds relative to now.
// Accepted forms:
//   - Go durations ("90s", "1h30m"), meaning that long before now
//   - RFC3339 timestamps ("2026-10-18T13:00:00Z")
func Parse(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative duration: %s", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2026-10-18T13:00:00Z')", spec)
}

// ParseWindow parses --since and --until into a Window. Empty flags leave
// that end open. since must be before until when both are set.
func ParseWindow(since, until string, now time.Time) (Window, error) {
	var w Window
	var err error

	if since != "" {
		if w.SinceMs, err = Parse(since, now); err != nil {
			return Window{}, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if w.UntilMs, err = Parse(until, now); err != nil {
			return Window{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if w.SinceMs > 0 && w.UntilMs > 0 && w.SinceMs >= w.UntilMs {
		return Window{}, fmt.Errorf("--since must be before --until")
	}
	return w, nil
}
