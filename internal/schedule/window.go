// Package schedule evaluates daily capture and processing windows.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Window is a daily local-time interval, half-open [Start, End),
// expressed in minutes since local midnight.
type Window struct {
	StartMinute int
	EndMinute   int
}

// ParseWindow parses a "HH:MM-HH:MM" string into a Window.
func ParseWindow(s string) (Window, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q: expected HH:MM-HH:MM", s)
	}

	start, err := parseClock(strings.TrimSpace(parts[0]))
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	end, err := parseClock(strings.TrimSpace(parts[1]))
	if err != nil {
		return Window{}, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if end <= start {
		return Window{}, fmt.Errorf("invalid window %q: end must be after start", s)
	}

	return Window{StartMinute: start, EndMinute: end}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// String formats the window as "HH:MM-HH:MM".
func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		w.StartMinute/60, w.StartMinute%60, w.EndMinute/60, w.EndMinute%60)
}

// Contains reports whether the instant falls inside the window.
func (w Window) Contains(now time.Time) bool {
	m := minuteOfDay(now)
	return m >= w.StartMinute && m < w.EndMinute
}

// RemainingSeconds returns the seconds from now to the window end.
// Sub-minute precision matters here: a recorder started at 13:59:30
// must be handed 30 s, not a full minute.
func (w Window) RemainingSeconds(now time.Time) int {
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(),
		w.EndMinute/60, w.EndMinute%60, 0, 0, now.Location())
	rem := int(endOfDay.Sub(now).Seconds())
	if rem < 0 {
		return 0
	}
	return rem
}

// ValidateWindows checks that the windows are pairwise non-overlapping.
func ValidateWindows(windows []Window) error {
	if len(windows) < 2 {
		return nil
	}

	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartMinute < sorted[j].StartMinute
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].StartMinute < sorted[i-1].EndMinute {
			return fmt.Errorf("windows %s and %s overlap", sorted[i-1], sorted[i])
		}
	}
	return nil
}

// ActiveWindow returns the window containing now, or nil if none does.
// Windows must have passed ValidateWindows, so at most one can match.
func ActiveWindow(now time.Time, windows []Window) *Window {
	for i := range windows {
		if windows[i].Contains(now) {
			return &windows[i]
		}
	}
	return nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
