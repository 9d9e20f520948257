package ics

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// doc wraps VEVENT blocks (and optional calendar properties) in a VCALENDAR
// using CRLF line endings.
func doc(blocks ...string) []byte {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//calsuggest//EN"}
	for _, b := range blocks {
		lines = append(lines, b)
	}
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func vevent(props ...string) string {
	lines := append([]string{"BEGIN:VEVENT"}, props...)
	lines = append(lines, "END:VEVENT")
	return strings.Join(lines, "\r\n")
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func starts(res ExpandResult) []time.Time {
	out := make([]time.Time, 0, len(res.Occurrences))
	for _, o := range res.Occurrences {
		out = append(out, o.Start.UTC())
	}
	return out
}

// weeklyStandup is a Monday 09:00–10:00 UTC series of four instances
// starting 2024-01-01: Jan 1, 8, 15, 22.
func weeklyStandup(extra ...string) string {
	props := []string{
		"UID:standup@test",
		"SUMMARY:Standup",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=WEEKLY;COUNT=4",
	}
	return vevent(append(props, extra...)...)
}
