package ics

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appLog "calsuggest/internal/log"
	"calsuggest/internal/model"
)

func januaryConfig() ExpandConfig {
	return ExpandConfig{
		SourceID:        "work",
		DisplayLocation: time.UTC,
		RangeStart:      utc(2024, 1, 1, 0, 0),
		RangeEnd:        utc(2024, 2, 1, 0, 0),
	}
}

func TestMaterialize_SingleEventIntersection(t *testing.T) {
	body := doc(vevent(
		"UID:lunch@test",
		"SUMMARY:Lunch",
		"DTSTART:20240110T120000Z",
		"DTEND:20240110T130000Z",
	))

	tests := []struct {
		name       string
		start, end time.Time
		want       int
	}{
		{"inside", utc(2024, 1, 10, 0, 0), utc(2024, 1, 11, 0, 0), 1},
		{"overlaps start", utc(2024, 1, 10, 12, 30), utc(2024, 1, 11, 0, 0), 1},
		{"overlaps end", utc(2024, 1, 10, 0, 0), utc(2024, 1, 10, 12, 1), 1},
		{"window ends at event start", utc(2024, 1, 10, 0, 0), utc(2024, 1, 10, 12, 0), 0},
		{"window starts at event end", utc(2024, 1, 10, 13, 0), utc(2024, 1, 11, 0, 0), 0},
		{"day before", utc(2024, 1, 9, 0, 0), utc(2024, 1, 10, 0, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Materialize(body, ExpandConfig{
				SourceID:        "work",
				DisplayLocation: time.UTC,
				RangeStart:      tt.start,
				RangeEnd:        tt.end,
			})
			require.NoError(t, err)
			assert.Len(t, res.Occurrences, tt.want)
			if tt.want == 1 {
				occ := res.Occurrences[0]
				assert.Equal(t, "Lunch", occ.Summary)
				assert.Equal(t, "work", occ.SourceID)
				assert.False(t, occ.Recurring)
			}
		})
	}
}

func TestMaterialize_CountTrackedAgainstSeries(t *testing.T) {
	body := doc(vevent(
		"UID:weekly@test",
		"SUMMARY:Weekly",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=WEEKLY;COUNT=3",
	))

	// Third week only.
	res, err := Materialize(body, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2024, 1, 15, 0, 0),
		RangeEnd:        utc(2024, 1, 22, 0, 0),
	})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, utc(2024, 1, 15, 9, 0), res.Occurrences[0].Start)
	assert.True(t, res.Occurrences[0].Recurring)

	// Fourth week: the series is exhausted.
	res, err = Materialize(body, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2024, 1, 22, 0, 0),
		RangeEnd:        utc(2024, 1, 29, 0, 0),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestMaterialize_UnboundedRuleCappedByWindow(t *testing.T) {
	body := doc(vevent(
		"UID:daily@test",
		"SUMMARY:Walk",
		"DTSTART:20200101T070000Z",
		"DTEND:20200101T073000Z",
		"RRULE:FREQ=DAILY",
	))

	res, err := Materialize(body, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2024, 3, 1, 0, 0),
		RangeEnd:        utc(2024, 3, 4, 0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 3, 1, 7, 0),
		utc(2024, 3, 2, 7, 0),
		utc(2024, 3, 3, 7, 0),
	}, starts(res))
	assert.Empty(t, res.TruncatedEvents)
}

func TestMaterialize_Interval(t *testing.T) {
	body := doc(vevent(
		"UID:every-other@test",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=DAILY;INTERVAL=2",
	))

	res, err := Materialize(body, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2024, 1, 1, 0, 0),
		RangeEnd:        utc(2024, 1, 8, 0, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 3, 9, 0),
		utc(2024, 1, 5, 9, 0),
		utc(2024, 1, 7, 9, 0),
	}, starts(res))
}

func TestMaterialize_CancellationOverride(t *testing.T) {
	body := doc(
		weeklyStandup(),
		vevent(
			"UID:standup@test",
			"SUMMARY:Standup",
			"RECURRENCE-ID:20240108T090000Z",
			"DTSTART:20240108T090000Z",
			"DTEND:20240108T100000Z",
			"STATUS:CANCELLED",
		),
	)

	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 15, 9, 0),
		utc(2024, 1, 22, 9, 0),
	}, starts(res))
	assert.Empty(t, res.Warnings)
}

func TestMaterialize_ExdateCancels(t *testing.T) {
	body := doc(weeklyStandup("EXDATE:20240115T090000Z"))

	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 8, 9, 0),
		utc(2024, 1, 22, 9, 0),
	}, starts(res))
}

func TestMaterialize_ModificationOverride(t *testing.T) {
	body := doc(
		weeklyStandup(),
		vevent(
			"UID:standup@test",
			"SUMMARY:Moved standup",
			"RECURRENCE-ID:20240108T090000Z",
			"DTSTART:20240109T140000Z",
			"DTEND:20240109T153000Z",
		),
	)

	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 4)

	moved := res.Occurrences[1]
	assert.Equal(t, "Moved standup", moved.Summary)
	assert.Equal(t, utc(2024, 1, 9, 14, 0), moved.Start)
	assert.Equal(t, utc(2024, 1, 9, 15, 30), moved.End)
	assert.Equal(t, "2024-01-08T09:00:00Z", moved.InstanceKey)
	assert.True(t, moved.Modified)

	for _, i := range []int{0, 2, 3} {
		sib := res.Occurrences[i]
		assert.Equal(t, "Standup", sib.Summary)
		assert.Equal(t, time.Hour, sib.Duration())
		assert.False(t, sib.Modified)
	}
	assert.Equal(t, utc(2024, 1, 15, 9, 0), res.Occurrences[2].Start)
}

func TestMaterialize_ExdateWinsOverModification(t *testing.T) {
	body := doc(
		weeklyStandup("EXDATE:20240108T090000Z"),
		vevent(
			"UID:standup@test",
			"SUMMARY:Moved standup",
			"RECURRENCE-ID:20240108T090000Z",
			"DTSTART:20240109T140000Z",
			"DTEND:20240109T150000Z",
		),
	)

	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 15, 9, 0),
		utc(2024, 1, 22, 9, 0),
	}, starts(res))
	assert.Empty(t, res.Warnings)
}

func TestMaterialize_AllDayKeepsCalendarDate(t *testing.T) {
	body := doc(
		"X-WR-TIMEZONE:Europe/Athens",
		vevent(
			"UID:holiday@test",
			"SUMMARY:Holiday",
			"DTSTART;VALUE=DATE:20240110",
			"RRULE:FREQ=WEEKLY;COUNT=2",
		),
		vevent(
			"UID:month-end@test",
			"SUMMARY:Month end",
			"DTSTART;VALUE=DATE:20240201",
		),
	)

	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 2)
	for i, day := range []int{10, 17} {
		occ := res.Occurrences[i]
		assert.True(t, occ.AllDay)
		assert.Equal(t, time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC), occ.Start)
		assert.Equal(t, time.Date(2024, 1, day+1, 0, 0, 0, 0, time.UTC), occ.End)
	}
}

func TestMaterialize_OverrideMovedIntoWindow(t *testing.T) {
	t.Run("from before the window", func(t *testing.T) {
		body := doc(
			weeklyStandup(),
			vevent(
				"UID:standup@test",
				"SUMMARY:Late standup",
				"RECURRENCE-ID:20240108T090000Z",
				"DTSTART:20240116T100000Z",
				"DTEND:20240116T110000Z",
			),
		)
		res, err := Materialize(body, ExpandConfig{
			DisplayLocation: time.UTC,
			RangeStart:      utc(2024, 1, 15, 0, 0),
			RangeEnd:        utc(2024, 1, 22, 0, 0),
		})
		require.NoError(t, err)
		assert.Equal(t, []time.Time{utc(2024, 1, 15, 9, 0), utc(2024, 1, 16, 10, 0)}, starts(res))
		assert.Empty(t, res.Warnings)
	})

	t.Run("from after the window", func(t *testing.T) {
		body := doc(
			weeklyStandup(),
			vevent(
				"UID:standup@test",
				"SUMMARY:Early standup",
				"RECURRENCE-ID:20240122T090000Z",
				"DTSTART:20240116T100000Z",
				"DTEND:20240116T110000Z",
			),
		)
		res, err := Materialize(body, ExpandConfig{
			DisplayLocation: time.UTC,
			RangeStart:      utc(2024, 1, 15, 0, 0),
			RangeEnd:        utc(2024, 1, 20, 0, 0),
		})
		require.NoError(t, err)
		assert.Equal(t, []time.Time{utc(2024, 1, 15, 9, 0), utc(2024, 1, 16, 10, 0)}, starts(res))
		assert.Equal(t, "Early standup", res.Occurrences[1].Summary)
		assert.Empty(t, res.Warnings)
	})
}

func TestMaterialize_StaleOverrideIsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := appLog.Replace(zap.New(core))
	defer restore()

	body := doc(
		weeklyStandup(),
		vevent(
			"UID:standup@test",
			"SUMMARY:Ghost",
			"RECURRENCE-ID:20240110T090000Z",
			"DTSTART:20240110T090000Z",
			"DTEND:20240110T100000Z",
		),
	)

	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 4)
	for _, occ := range res.Occurrences {
		assert.Equal(t, "Standup", occ.Summary)
	}

	require.Len(t, res.Warnings, 1)
	var oke *OverrideKeyError
	require.True(t, errors.As(res.Warnings[0], &oke))
	assert.Equal(t, "standup@test", oke.UID)
	assert.Equal(t, utc(2024, 1, 10, 9, 0), oke.RecurrenceID.UTC())

	assert.Equal(t, 1, logs.FilterMessage("expand: skipping stale override").Len())
}

func TestMaterialize_OverrideOutsideWindowIsNotStale(t *testing.T) {
	body := doc(
		weeklyStandup(),
		vevent(
			"UID:standup@test",
			"RECURRENCE-ID:20240122T090000Z",
			"DTSTART:20240122T090000Z",
			"DTEND:20240122T100000Z",
			"STATUS:CANCELLED",
		),
	)
	res, err := Materialize(body, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      utc(2024, 1, 1, 0, 0),
		RangeEnd:        utc(2024, 1, 9, 0, 0),
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 2)
	assert.Empty(t, res.Warnings)
}

func TestMaterialize_OrphanOverrideStandsAlone(t *testing.T) {
	body := doc(vevent(
		"UID:elsewhere@test",
		"SUMMARY:Shared instance",
		"RECURRENCE-ID:20240108T090000Z",
		"DTSTART:20240108T110000Z",
		"DTEND:20240108T120000Z",
	))

	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, "Shared instance", res.Occurrences[0].Summary)
	assert.True(t, res.Occurrences[0].Modified)
}

func TestMaterialize_TimezoneAcrossDST(t *testing.T) {
	body := doc(vevent(
		"UID:ny@test",
		"SUMMARY:NY sync",
		"DTSTART;TZID=America/New_York:20250303T090000",
		"DTEND;TZID=America/New_York:20250303T100000",
		"RRULE:FREQ=WEEKLY;COUNT=2",
	))

	athens, err := time.LoadLocation("Europe/Athens")
	require.NoError(t, err)

	res, err := Materialize(body, ExpandConfig{
		DisplayLocation: athens,
		RangeStart:      utc(2025, 3, 1, 0, 0),
		RangeEnd:        utc(2025, 3, 15, 0, 0),
	})
	require.NoError(t, err)

	// 09:00 New York wall clock on both dates; DST starts there on Mar 9.
	assert.Equal(t, []time.Time{utc(2025, 3, 3, 14, 0), utc(2025, 3, 10, 13, 0)}, starts(res))
	for _, occ := range res.Occurrences {
		assert.Equal(t, athens, occ.Start.Location())
		assert.Equal(t, athens, occ.End.Location())
	}
}

func TestMaterialize_MalformedRule(t *testing.T) {
	for _, rule := range []string{
		"RRULE:FREQ=FORTNIGHTLY",
		"RRULE:FREQ=WEEKLY;INTERVAL=0",
		"RRULE:FREQ=WEEKLY;INTERVAL=-2",
		"RRULE:INTERVAL=2",
	} {
		t.Run(rule, func(t *testing.T) {
			body := doc(vevent(
				"UID:broken@test",
				"SUMMARY:Broken",
				"DTSTART:20240101T090000Z",
				rule,
			))
			_, err := Materialize(body, januaryConfig())
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, "broken@test", pe.UID)
			assert.Equal(t, "RRULE", pe.Property)
		})
	}
}

func TestMaterialize_WindowError(t *testing.T) {
	cfg := januaryConfig()
	cfg.RangeStart, cfg.RangeEnd = cfg.RangeEnd, cfg.RangeStart

	_, err := Materialize(doc(weeklyStandup()), cfg)
	var twe *model.TimeWindowError
	require.True(t, errors.As(err, &twe))
}

func TestMaterialize_Cap(t *testing.T) {
	body := doc(vevent(
		"UID:daily@test",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=DAILY",
	))
	cfg := januaryConfig()
	cfg.MaxOccurrencesPerEvent = 2

	res, err := Materialize(body, cfg)
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 2)
	assert.Equal(t, []string{"daily@test"}, res.TruncatedEvents)
}

func TestMaterialize_SortedAcrossTemplates(t *testing.T) {
	body := doc(
		vevent("UID:b@test", "SUMMARY:B", "DTSTART:20240103T090000Z", "DTEND:20240103T100000Z"),
		vevent("UID:a@test", "SUMMARY:A", "DTSTART:20240102T090000Z", "DTEND:20240102T100000Z"),
		vevent("UID:c@test", "SUMMARY:C", "DTSTART:20240102T090000Z", "DTEND:20240102T093000Z"),
	)
	res, err := Materialize(body, januaryConfig())
	require.NoError(t, err)

	got := make([]string, 0, len(res.Occurrences))
	for _, o := range res.Occurrences {
		got = append(got, o.Summary)
	}
	// Equal starts keep document order.
	assert.Equal(t, []string{"A", "C", "B"}, got)
}

func TestMaterialize_Idempotent(t *testing.T) {
	body := doc(
		weeklyStandup("EXDATE:20240115T090000Z"),
		vevent(
			"UID:standup@test",
			"SUMMARY:Moved standup",
			"RECURRENCE-ID:20240108T090000Z",
			"DTSTART:20240109T140000Z",
			"DTEND:20240109T153000Z",
		),
		vevent("UID:one@test", "SUMMARY:One-off", "DTSTART:20240109T140000Z", "DTEND:20240109T150000Z"),
	)

	first, err := Materialize(body, januaryConfig())
	require.NoError(t, err)
	second, err := Materialize(body, januaryConfig())
	require.NoError(t, err)

	if diff := cmp.Diff(first.Occurrences, second.Occurrences); diff != "" {
		t.Fatalf("second run differs (-first +second):\n%s", diff)
	}
}

func TestExpand_ReusesParsedCalendar(t *testing.T) {
	cal, err := Parse(doc(weeklyStandup()), ParseOptions{})
	require.NoError(t, err)

	a, err := Expand(cal, januaryConfig())
	require.NoError(t, err)
	b, err := Expand(cal, januaryConfig())
	require.NoError(t, err)
	assert.Equal(t, starts(a), starts(b))
	assert.Len(t, a.Occurrences, 4)
}
