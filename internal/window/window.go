package window

import (
	"fmt"
	"iter"
	"strings"
	"time"
)

// DateLayout is the calendar date format used across the warehouse.
const DateLayout = "2006-01-02"

// Window is an inclusive calendar date range processed as one reporting unit.
type Window struct {
	Start time.Time
	End   time.Time
}

// New creates a window from two dates, truncating both to midnight UTC.
func New(start, end time.Time) (Window, error) {
	w := Window{Start: Date(start), End: Date(end)}
	if w.Start.After(w.End) {
		return Window{}, fmt.Errorf("window start %s is after end %s", FormatDate(w.Start), FormatDate(w.End))
	}
	return w, nil
}

// Date truncates t to its calendar date at midnight UTC.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date. Longer timestamps are cut to their date part.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return d, nil
}

// FormatDate formats a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ID returns the window identifier, e.g. "2026-02-06..2026-02-12".
// Single-day windows return just the date.
func (w Window) ID() string {
	start, end := FormatDate(w.Start), FormatDate(w.End)
	if start == end {
		return start
	}
	return start + ".." + end
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return FormatDate(w.Start) + " to " + FormatDate(w.End)
}

// Days returns the number of calendar days in the window, inclusive.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d time.Time) bool {
	d = Date(d)
	return !d.Before(w.Start) && !d.After(w.End)
}

// IsCanonical reports whether the window is a full Friday through Thursday week.
func (w Window) IsCanonical() bool {
	return w.Start.Weekday() == time.Friday && w.End.Equal(w.Start.AddDate(0, 0, 6))
}

// Display formats the window for human-readable display: "Feb 06 - Feb 12, 2026".
func (w Window) Display() string {
	if w.Start.Equal(w.End) {
		return w.Start.Format("Jan 02, 2006")
	}
	return fmt.Sprintf("%s - %s", w.Start.Format("Jan 02"), w.End.Format("Jan 02, 2006"))
}

// ParseID parses a window identifier produced by ID.
func ParseID(id string) (Window, error) {
	startStr, endStr, found := strings.Cut(id, "..")
	if !found {
		endStr = startStr
	}
	start, err := ParseDate(startStr)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseDate(endStr)
	if err != nil {
		return Window{}, err
	}
	return New(start, end)
}

// mondayIndex converts a weekday to the Monday=0 .. Sunday=6 convention.
func mondayIndex(d time.Time) int {
	return (int(d.Weekday()) + 6) % 7
}

const (
	thursdayIndex = 3
	fridayIndex   = 4
)

// CanonicalLastWeek returns the most recently completed Friday through Thursday
// window relative to today. On a Thursday the previous week's window is returned
// because the current Thursday is still in progress.
func CanonicalLastWeek(today time.Time) Window {
	today = Date(today)
	wd := mondayIndex(today)

	var daysSinceThu int
	if wd >= fridayIndex {
		daysSinceThu = wd - thursdayIndex
	} else {
		daysSinceThu = wd + 4
	}

	lastThu := today.AddDate(0, 0, -daysSinceThu)
	lastFri := lastThu.AddDate(0, 0, -6)
	return Window{Start: lastFri, End: lastThu}
}

// AlignToFriday snaps d backward to the nearest Friday. Fridays are unchanged.
func AlignToFriday(d time.Time) time.Time {
	d = Date(d)
	shift := (mondayIndex(d) - fridayIndex + 7) % 7
	return d.AddDate(0, 0, -shift)
}

// AlignToThursday snaps d forward to the nearest Thursday. Thursdays are unchanged.
func AlignToThursday(d time.Time) time.Time {
	d = Date(d)
	shift := (thursdayIndex - mondayIndex(d) + 7) % 7
	return d.AddDate(0, 0, shift)
}

// Align widens w to whole Friday through Thursday weeks.
func Align(w Window) Window {
	return Window{Start: AlignToFriday(w.Start), End: AlignToThursday(w.End)}
}

// IterateWeeks yields consecutive 7-day windows starting at start. The final
// window is clipped so it never extends past end. The sequence can be ranged
// over any number of times.
func IterateWeeks(start, end time.Time) iter.Seq[Window] {
	start, end = Date(start), Date(end)
	return func(yield func(Window) bool) {
		for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 7) {
			last := cur.AddDate(0, 0, 6)
			if last.After(end) {
				last = end
			}
			if !yield(Window{Start: cur, End: last}) {
				return
			}
		}
	}
}

// Weeks collects IterateWeeks into a slice.
func Weeks(start, end time.Time) []Window {
	var out []Window
	for w := range IterateWeeks(start, end) {
		out = append(out, w)
	}
	return out
}
