package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowValidate(t *testing.T) {
	start := time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)

	require.NoError(t, Window{Start: start, End: start.Add(time.Hour)}.Validate())
	require.NoError(t, Window{Start: start, End: start}.Validate())

	err := Window{Start: start, End: start.Add(-time.Minute)}.Validate()
	var twe *TimeWindowError
	require.True(t, errors.As(err, &twe))
	assert.Equal(t, start, twe.Start)
}

func TestWindowIntersects(t *testing.T) {
	ws := time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC)
	w := Window{Start: ws, End: ws.Add(24 * time.Hour)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", ws.Add(time.Hour), ws.Add(2 * time.Hour), true},
		{"straddles start", ws.Add(-time.Hour), ws.Add(time.Hour), true},
		{"ends at window start", ws.Add(-time.Hour), ws, false},
		{"starts at window end", ws.Add(24 * time.Hour), ws.Add(25 * time.Hour), false},
		{"covers window", ws.Add(-time.Hour), ws.Add(48 * time.Hour), true},
		{"zero length at start", ws, ws, true},
		{"zero length at end", ws.Add(24 * time.Hour), ws.Add(24 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Intersects(tt.start, tt.end))
		})
	}
}

func TestScheduleOnDate(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	s := &AggregatedSchedule{Occurrences: []Occurrence{
		{Summary: "late", Start: time.Date(2025, 4, 17, 22, 30, 0, 0, time.UTC)},
		{Summary: "early", Start: time.Date(2025, 4, 17, 8, 0, 0, 0, time.UTC)},
	}}

	got := s.OnDate(time.Date(2025, 4, 18, 12, 0, 0, 0, loc))
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Summary)
}

func TestOccurrenceInLocation(t *testing.T) {
	athens := time.FixedZone("EEST", 3*3600)
	pacific := time.FixedZone("PDT", -7*3600)

	holiday := Occurrence{
		Summary: "Holiday",
		AllDay:  true,
		Start:   time.Date(2025, 4, 16, 0, 0, 0, 0, athens),
		End:     time.Date(2025, 4, 17, 0, 0, 0, 0, athens),
	}
	got := holiday.InLocation(time.UTC)
	assert.Equal(t, time.Date(2025, 4, 16, 0, 0, 0, 0, time.UTC), got.Start)
	assert.Equal(t, time.Date(2025, 4, 17, 0, 0, 0, 0, time.UTC), got.End)

	s := &AggregatedSchedule{Occurrences: []Occurrence{got}}
	assert.Len(t, s.OnDate(time.Date(2025, 4, 16, 0, 0, 0, 0, time.UTC)), 1)

	got = holiday.InLocation(pacific)
	assert.Equal(t, time.Date(2025, 4, 16, 0, 0, 0, 0, pacific), got.Start)

	meeting := Occurrence{
		Start: time.Date(2025, 4, 16, 0, 30, 0, 0, athens),
		End:   time.Date(2025, 4, 16, 1, 30, 0, 0, athens),
	}
	got = meeting.InLocation(time.UTC)
	assert.True(t, got.Start.Equal(meeting.Start))
	assert.Equal(t, 15, got.Start.Day())
	assert.Equal(t, time.UTC, got.Start.Location())
}
