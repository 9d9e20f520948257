// Package suggest asks a hosted language model for a time slot that fits a
// new event into an existing schedule.
package suggest

import (
	"fmt"
	"strings"
	"time"

	"calsuggest/internal/model"
)

const (
	layoutMinute = "2006-01-02 15:04"
	layoutDate   = "2006-01-02"
	layoutClock  = "15:04"
)

// Request is everything the model sees for one suggestion round.
type Request struct {
	// Schedule is the merged schedule the new event must fit into.
	Schedule []model.Occurrence
	Location *time.Location
	Now      time.Time

	// Request is the user's free-text description ("movie night this week").
	Request string
	// Title becomes the summary of the suggested event.
	Title string
	// Feedback holds earlier rejections, oldest first.
	Feedback []string
}

func (r Request) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// FormatSchedule renders occurrences as a compact listing, one line per
// event in loc. Events from a second calendar are tagged with their source.
func FormatSchedule(occ []model.Occurrence, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current Time (%s): %s\n", loc, now.In(loc).Format(layoutMinute))

	if len(occ) == 0 {
		b.WriteString("No events found in the specified time period.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Schedule Context (%s): %s to %s\n\nEvents:\n", loc,
		occ[0].Start.In(loc).Format(layoutDate),
		occ[len(occ)-1].Start.In(loc).Format(layoutDate))

	primary := occ[0].SourceID
	multi := false
	for _, o := range occ {
		if o.SourceID != primary {
			multi = true
			break
		}
	}

	for _, o := range occ {
		start, end := o.Start.In(loc), o.End.In(loc)
		if o.AllDay {
			fmt.Fprintf(&b, "%s (all day): %s", start.Format(layoutDate), o.Summary)
		} else {
			fmt.Fprintf(&b, "%s - %s: %s", start.Format(layoutMinute), end.Format(layoutClock), o.Summary)
		}
		if o.Recurring {
			b.WriteString(" (Recurring)")
		}
		if multi && o.SourceID != "" {
			fmt.Fprintf(&b, " (from %s)", o.SourceID)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

const systemPrompt = "You are a calendar scheduling assistant. You suggest the best time for a new event " +
	"given the user's request and existing schedule, and you answer only with JSON."

// BuildPrompt renders the user message for one suggestion round.
func BuildPrompt(req Request) string {
	loc := req.location()
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	feedback := "No feedback provided."
	if len(req.Feedback) > 0 {
		var fb strings.Builder
		fb.WriteString("Feedback history:\n")
		for i, f := range req.Feedback {
			fmt.Fprintf(&fb, "%d. %s\n", i+1, f)
		}
		feedback = strings.TrimRight(fb.String(), "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, `RULES:
1. Suggest exactly ONE time slot, in the %[1]s timezone.
2. Avoid conflicts with existing events. If no free slot exists, pick the least disruptive one and say which conflicts remain.
3. Respect the nature of the event (a movie night is in the evening) and typical human patterns (sleep, meals, work hours).
4. Without an explicit duration use a reasonable default: meetings 1 hour, work sessions 1-2 hours, social events 2-3 hours.
5. Address ALL feedback items. When they conflict, the most recent one wins.

SCHEDULE CONTEXT:
%[2]s
USER REQUEST:
%[3]s

%[4]s

RESPONSE FORMAT (JSON only, no other text):
{"suggestions":[{"start":"YYYY-MM-DD HH:MM","duration_hours":1.5,"explanation":"one or two sentences"}]}
`, loc, FormatSchedule(req.Schedule, loc, now), strings.TrimSpace(req.Request), feedback)
	return b.String()
}
