package window

import (
	"fmt"
	"strings"
	"time"
)

// DayCount is the number of reviews on a single calendar date.
type DayCount struct {
	Date  time.Time
	Count int
}

// IncompleteError reports the dates inside a window that had no reviews.
type IncompleteError struct {
	Window       Window
	MissingDates []time.Time
}

func (e *IncompleteError) Error() string {
	dates := make([]string, len(e.MissingDates))
	for i, d := range e.MissingDates {
		dates[i] = FormatDate(d)
	}
	return fmt.Sprintf("incomplete data for %s: no reviews on %s", e.Window, strings.Join(dates, ", "))
}

// DailyCounts partitions dates by calendar day and returns one entry per day
// of the window in order, including days with zero reviews. Dates outside the
// window are ignored.
func DailyCounts(dates []time.Time, w Window) []DayCount {
	byDay := make(map[time.Time]int, w.Days())
	for _, d := range dates {
		d = Date(d)
		if w.Contains(d) {
			byDay[d]++
		}
	}

	out := make([]DayCount, 0, w.Days())
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		out = append(out, DayCount{Date: d, Count: byDay[d]})
	}
	return out
}

// CheckCompleteness returns an *IncompleteError when any day of the window has no
// reviews. Partial weeks are rejected rather than summarized.
func CheckCompleteness(dates []time.Time, w Window) error {
	var missing []time.Time
	for _, dc := range DailyCounts(dates, w) {
		if dc.Count == 0 {
			missing = append(missing, dc.Date)
		}
	}
	if len(missing) > 0 {
		return &IncompleteError{Window: w, MissingDates: missing}
	}
	return nil
}
