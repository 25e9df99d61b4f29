// Package interval holds the half-open time interval used by every conflict
// test in the scheduling service.
package interval

import (
	"fmt"
	"time"
)

// Interval is the half-open range [Start, End) over absolute instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether a and b share any instant.
// [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end, so
// intervals that only touch at an endpoint do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func OverlapsAny(a Interval, set []Interval) bool {
	for _, b := range set {
		if Overlaps(a, b) {
			return true
		}
	}
	return false
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) Before(o Clock) bool {
	return c.Minutes() < o.Minutes()
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant at this time of day on date's calendar day, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, date.Location())
}

type ClockRange struct {
	Start Clock
	End   Clock
}

func (r ClockRange) Valid() bool {
	return r.Start.Before(r.End)
}

// On anchors the range to date's calendar day without converting timezones.
func (r ClockRange) On(date time.Time) Interval {
	return Interval{Start: r.Start.On(date), End: r.End.On(date)}
}

// Day returns the calendar day containing date as an interval, [00:00, next 00:00).
func Day(date time.Time) Interval {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}
