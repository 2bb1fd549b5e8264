package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Reporting window for KPI snapshots
// =============================================================================

// Period is the reporting granularity of a KPI snapshot.
type Period string

const (
	PeriodDaily   Period = "DAILY"
	PeriodWeekly  Period = "WEEKLY"
	PeriodMonthly Period = "MONTHLY"
)

// ParsePeriod accepts DAILY/WEEKLY/MONTHLY in any case; "" means DAILY.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToUpper(s) {
	case "", "DAILY":
		return PeriodDaily, nil
	case "WEEKLY":
		return PeriodWeekly, nil
	case "MONTHLY":
		return PeriodMonthly, nil
	}
	return "", &ValidationError{Field: "period", Message: fmt.Sprintf("unknown period %q", s)}
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t lies inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return "[" + w.Start.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + ")"
}

// Previous returns the window of the same period immediately before w.
func (p Period) Previous(w Window) Window {
	return p.WindowFor(w.Start.Add(-time.Nanosecond))
}

// WindowFor returns the UTC window of period p that contains at. Weeks start
// on Monday.
func (p Period) WindowFor(at time.Time) Window {
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)

	switch p {
	case PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Window{Start: start, End: start.AddDate(0, 0, 7)}
	case PeriodMonthly:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		return Window{Start: start, End: start.AddDate(0, 1, 0)}
	default:
		return Window{Start: day, End: day.AddDate(0, 0, 1)}
	}
}
