package model

import (
	"fmt"
	"time"
)

// Frequency is the FREQ part of a recurrence rule.
type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// RecurrenceRule describes how an event repeats. It is immutable once parsed:
// callers must not modify the slices.
type RecurrenceRule struct {
	Frequency Frequency
	Interval  int

	// At most one end condition is set. Both zero means the series is
	// unbounded and only the query window limits expansion.
	Count int
	Until time.Time

	ByDay      []string // e.g. "MO", "-1FR"
	ByMonthDay []int

	// Raw is the RRULE value the rule was parsed from.
	Raw string
}

// Bounded reports whether the rule carries its own end condition.
func (r RecurrenceRule) Bounded() bool {
	return r.Count > 0 || !r.Until.IsZero()
}

// EventTemplate is the master definition of a (possibly recurring) event.
type EventTemplate struct {
	UID         string
	Summary     string
	Description string
	Location    string

	// Start / End in the event's own timezone.
	Start    time.Time
	End      time.Time
	TimeZone string
	AllDay   bool
	Sequence int

	Rule *RecurrenceRule
}

// Duration returns End - Start.
func (t EventTemplate) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Recurring reports whether the template owns a recurrence rule.
func (t EventTemplate) Recurring() bool {
	return t.Rule != nil
}

// OccurrenceOverride is a per-instance exception to a recurring series,
// keyed by the original (unmodified) start of the instance.
type OccurrenceOverride struct {
	UID          string
	RecurrenceID time.Time

	// Cancelled overrides remove the instance; otherwise Template carries
	// the moved/edited instance.
	Cancelled bool
	Template  *EventTemplate
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey identifies one instance of a series: the original start
	// in UTC, RFC 3339.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay    bool
	Recurring bool
	Modified  bool

	// Start / End are in the requested display timezone.
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// InLocation returns o with Start and End expressed in loc. All-day
// occurrences keep their calendar dates: they are re-anchored at midnight
// in loc instead of being shifted.
func (o Occurrence) InLocation(loc *time.Location) Occurrence {
	if o.AllDay {
		o.Start = dateIn(o.Start, loc)
		o.End = dateIn(o.End, loc)
		return o
	}
	o.Start = o.Start.In(loc)
	o.End = o.End.In(loc)
	return o
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate fails with *TimeWindowError when End is before Start.
func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return &TimeWindowError{Start: w.Start, End: w.End}
	}
	return nil
}

// Intersects reports whether [start, end) overlaps the window. Zero-length
// intervals intersect when start lies inside the window.
func (w Window) Intersects(start, end time.Time) bool {
	if !start.Before(w.End) {
		return false
	}
	if end.Equal(start) {
		return !start.Before(w.Start)
	}
	return end.After(w.Start)
}

// TimeWindowError is returned when a window ends before it starts.
type TimeWindowError struct {
	Start time.Time
	End   time.Time
}

func (e *TimeWindowError) Error() string {
	return fmt.Sprintf("time window: end %s is before start %s",
		e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
}

// SourceFailure records a calendar excluded from an aggregated schedule.
type SourceFailure struct {
	SourceID string
	Err      error
}

// AggregatedSchedule is the merged, chronologically ordered view of several
// calendars over one window.
type AggregatedSchedule struct {
	Window   Window
	TimeZone string

	Occurrences []Occurrence

	Failures  []SourceFailure
	Warnings  []string
	Truncated []string
}

// OnDate returns the occurrences starting on the calendar date of day
// (in day's location).
func (s *AggregatedSchedule) OnDate(day time.Time) []Occurrence {
	y, m, d := day.Date()
	out := make([]Occurrence, 0)
	for _, occ := range s.Occurrences {
		oy, om, od := occ.Start.In(day.Location()).Date()
		if oy == y && om == m && od == d {
			out = append(out, occ)
		}
	}
	return out
}
