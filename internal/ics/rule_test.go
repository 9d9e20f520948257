package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsuggest/internal/model"
)

func TestParseRule(t *testing.T) {
	rule, err := ParseRule("RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,we;COUNT=5", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, model.Weekly, rule.Frequency)
	assert.Equal(t, 2, rule.Interval)
	assert.Equal(t, 5, rule.Count)
	assert.Equal(t, []string{"MO", "WE"}, rule.ByDay)
	assert.True(t, rule.Bounded())

	rule, err = ParseRule("FREQ=MONTHLY;BYMONTHDAY=1,-1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.Monthly, rule.Frequency)
	assert.Equal(t, 1, rule.Interval)
	assert.Equal(t, []int{1, -1}, rule.ByMonthDay)
	assert.False(t, rule.Bounded())

	rule, err = ParseRule("FREQ=YEARLY;UNTIL=20301231T000000Z", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC), rule.Until)
	assert.True(t, rule.Bounded())
}

func TestParseRule_Errors(t *testing.T) {
	for _, raw := range []string{
		"",
		"FREQ=HOURLY",
		"FREQ=SECONDLY",
		"INTERVAL=2",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=DAILY;INTERVAL=abc",
		"FREQ=DAILY;COUNT=0",
		"FREQ=DAILY;COUNT=3;UNTIL=20300101T000000Z",
		"FREQ=DAILY;UNTIL=later",
		"FREQ=MONTHLY;BYMONTHDAY=32",
		"FREQ=DAILY;garbage",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseRule(raw, time.UTC)
			assert.Error(t, err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "PT45M", want: 45 * time.Minute},
		{in: "PT1H30M", want: 90 * time.Minute},
		{in: "P1D", want: 24 * time.Hour},
		{in: "P1DT2H", want: 26 * time.Hour},
		{in: "P2W", want: 14 * 24 * time.Hour},
		{in: "+PT10S", want: 10 * time.Second},
		{in: "-PT1H", wantErr: true},
		{in: "PT", wantErr: true},
		{in: "P1H", wantErr: true},
		{in: "PT1D", wantErr: true},
		{in: "PT5", wantErr: true},
		{in: "1H", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
