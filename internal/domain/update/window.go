package update

import (
	"strconv"
	"strings"
	"time"
)

// Window is a backend-defined maintenance window during which updates may be applied.
// Start and end are wall-clock times in the device's local timezone; a window whose
// end precedes its start wraps past midnight.
type Window struct {
	// Name labels the window for logs, e.g. "night".
	Name string
	// StartTime is the inclusive opening time in "HH:MM" form.
	StartTime string
	// EndTime is the inclusive closing time in "HH:MM" form.
	EndTime string
}

// Contains reports whether the instant falls inside the window, endpoints included.
// A malformed window never matches.
func (w Window) Contains(at time.Time) bool {
	start, ok := parseClock(w.StartTime)
	if !ok {
		return false
	}

	end, ok := parseClock(w.EndTime)
	if !ok {
		return false
	}

	now := at.Hour()*60 + at.Minute()

	// A window ending before it starts spans midnight.
	if start > end {
		return now >= start || now <= end
	}

	return now >= start && now <= end
}

// Allowed reports whether updates may run at the given instant.
// An empty window list places no restriction.
func Allowed(windows []Window, at time.Time) bool {
	if len(windows) == 0 {
		return true
	}

	for _, w := range windows {
		if w.Contains(at) {
			return true
		}
	}

	return false
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, bool) {
	hours, minutes, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, false
	}

	h, err := strconv.Atoi(hours)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}

	m, err := strconv.Atoi(minutes)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}

	return h*60 + m, true
}
