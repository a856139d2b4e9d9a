package calendar

import (
	"fmt"
	"time"
)

// View is the display granularity of the calendar.
type View string

const (
	ViewMonth View = "month"
	ViewWeek  View = "week"
	ViewDay   View = "day"
)

// ParseView maps a user-supplied string onto a View.
func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewMonth, ViewWeek, ViewDay:
		return View(s), nil
	}
	return "", fmt.Errorf("unknown view %q (want month, week or day)", s)
}

// Window is a half-open [Start, End) query range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// WindowFor computes the query range for an anchor date and view.
//
// Month windows run from the first of the month minus 7 days through the
// day after the last of the month plus 7 days, so the partial leading and
// trailing weeks of a month grid already have their events loaded. Week
// windows are the 7-day span containing the anchor, aligned to weekStart.
// Day windows are the anchor's 24-hour span.
//
// The result is deterministic for a given anchor; no wall clock is read.
func WindowFor(anchor time.Time, view View, weekStart time.Weekday) Window {
	loc := anchor.Location()
	day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc)

	switch view {
	case ViewMonth:
		first := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, loc)
		afterLast := first.AddDate(0, 1, 0)
		return Window{
			Start: first.AddDate(0, 0, -7),
			End:   afterLast.AddDate(0, 0, 7),
		}
	case ViewWeek:
		offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
		start := day.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}
	default: // ViewDay
		return Window{Start: day, End: day.AddDate(0, 0, 1)}
	}
}
