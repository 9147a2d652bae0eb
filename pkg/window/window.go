// Package window splits a date range into calendar-month windows so that each
// upstream query stays under the API's per-query result limit.
package window

import (
	"fmt"
	"time"
)

// DateLayout is the upstream and warehouse date format.
const DateLayout = "2006-01-02"

// DateWindow is an inclusive range of calendar dates.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// StartString returns Start formatted as YYYY-MM-DD.
func (w DateWindow) StartString() string {
	return w.Start.Format(DateLayout)
}

// EndString returns End formatted as YYYY-MM-DD.
func (w DateWindow) EndString() string {
	return w.End.Format(DateLayout)
}

// String implements fmt.Stringer.
func (w DateWindow) String() string {
	return w.StartString() + ".." + w.EndString()
}

// ParseDate parses a YYYY-MM-DD date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Monthly returns the ordered windows covering [start, end], each limited to a
// single calendar month. The first window starts at start and the last one ends
// at end. It returns nil when end is before start.
func Monthly(start, end time.Time) []DateWindow {
	start = truncateDay(start)
	end = truncateDay(end)

	var windows []DateWindow
	for current := start; !current.After(end); {
		nextMonth := time.Date(current.Year(), current.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		last := nextMonth.AddDate(0, 0, -1)
		if last.After(end) {
			last = end
		}
		windows = append(windows, DateWindow{Start: current, End: last})
		current = nextMonth
	}
	return windows
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
