// Package window computes the daily query interval that scopes a report run.
//
// A report day runs from the morning hour (06:00 by default) of the previous
// calendar day up to the same hour of the current day. Both bounds are
// computed in an explicit location. Across a DST transition the span is one
// calendar day of wall-clock time, which is 23 or 25 hours of elapsed time;
// the report treats that as an acceptable approximation.
package window

import (
	"fmt"
	"time"
)

// Window is the half-open interval [After, Before) of a report day.
type Window struct {
	After  time.Time
	Before time.Time
}

// New returns the window that ends at the morning hour of now's calendar day.
func New(now time.Time, loc *time.Location, hour int) Window {
	return Window{
		After:  PreviousMorning(now, loc, hour),
		Before: TodayMorning(now, loc, hour),
	}
}

// PreviousMorning returns hour:00:00 in loc on the calendar day before now.
func PreviousMorning(now time.Time, loc *time.Location, hour int) time.Time {
	local := now.In(loc)

	return time.Date(local.Year(), local.Month(), local.Day()-1, hour, 0, 0, 0, loc)
}

// TodayMorning returns hour:00:00 in loc on now's calendar day.
func TodayMorning(now time.Time, loc *time.Location, hour int) time.Time {
	local := now.In(loc)

	return time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
}

// AfterUnix returns the inclusive lower bound in UNIX seconds.
func (w Window) AfterUnix() int64 {
	return w.After.Unix()
}

// BeforeUnix returns the exclusive upper bound in UNIX seconds.
func (w Window) BeforeUnix() int64 {
	return w.Before.Unix()
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.After) && t.Before(w.Before)
}

// Span returns the elapsed duration covered by the window.
func (w Window) Span() time.Duration {
	return w.Before.Sub(w.After)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.After.Format(time.RFC3339), w.Before.Format(time.RFC3339))
}

// FormatDateLabel renders t as a row label in loc using layout.
func FormatDateLabel(t time.Time, loc *time.Location, layout string) string {
	return t.In(loc).Format(layout)
}

// ReportDay returns the instant whose calendar date names the report day,
// which is the day before now.
func ReportDay(now time.Time) time.Time {
	return now.AddDate(0, 0, -1)
}
