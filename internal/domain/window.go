package domain

import (
	"strings"
	"time"
)

// Window is a reporting period relative to "now".
type Window string

const (
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
)

// ParseWindow validates a window name; empty input selects the week.
func ParseWindow(value string) (Window, error) {
	switch w := Window(strings.ToLower(strings.TrimSpace(value))); w {
	case "":
		return WindowWeek, nil
	case WindowWeek, WindowMonth, WindowYear:
		return w, nil
	default:
		return "", ErrUnknownWindow
	}
}

// Granularity is the size of a chart bucket.
type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityMonth
)

// BucketStart truncates t to the start of its bucket in loc.
func (g Granularity) BucketStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if g == GranularityMonth {
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	}
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// Granularity returns the bucket size used for the window's chart series.
func (w Window) Granularity() Granularity {
	if w == WindowYear {
		return GranularityMonth
	}
	return GranularityDay
}

// Days is the nominal length of the window.
func (w Window) Days() int {
	switch w {
	case WindowMonth:
		return 30
	case WindowYear:
		return 365
	default:
		return 7
	}
}

// TimeRange is a half-open [Start, End) interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Range resolves the window to calendar boundaries in loc. Day windows end at the
// start of tomorrow; the year window spans the last twelve calendar months.
func (w Window) Range(now time.Time, loc *time.Location) TimeRange {
	if loc == nil {
		loc = time.UTC
	}
	if w == WindowYear {
		monthStart := GranularityMonth.BucketStart(now, loc)
		return TimeRange{Start: monthStart.AddDate(0, -11, 0), End: monthStart.AddDate(0, 1, 0)}
	}
	end := GranularityDay.BucketStart(now, loc).AddDate(0, 0, 1)
	return TimeRange{Start: end.AddDate(0, 0, -w.Days()), End: end}
}

// RecordsLookback is the window personal records are always computed over.
func RecordsLookback(now time.Time, loc *time.Location) TimeRange {
	return WindowYear.Range(now, loc)
}
