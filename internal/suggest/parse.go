package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"calsuggest/internal/model"
)

// DefaultTitle is used when the request carries no title.
const DefaultTitle = "New Event"

// maxDurationHours caps a suggested duration at one week.
const maxDurationHours = 24 * 7

// ErrNoSuggestion is returned when a response holds no usable suggestion.
var ErrNoSuggestion = errors.New("suggest: response contains no suggestion")

type response struct {
	Suggestions []struct {
		Start         string  `json:"start"`
		DurationHours float64 `json:"duration_hours"`
		Explanation   string  `json:"explanation"`
	} `json:"suggestions"`
}

// ParseResponse extracts suggested events from a model reply. Code fences
// and prose around the JSON object are ignored. Starts are read in loc
// ("YYYY-MM-DD HH:MM") or as RFC 3339; durations must be positive and at
// most one week.
func ParseResponse(text string, loc *time.Location, title string) ([]model.EventTemplate, error) {
	if loc == nil {
		loc = time.UTC
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}

	raw, ok := extractObject(text)
	if !ok {
		return nil, ErrNoSuggestion
	}
	var resp response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("suggest: decode response: %w", err)
	}
	if len(resp.Suggestions) == 0 {
		return nil, ErrNoSuggestion
	}

	out := make([]model.EventTemplate, 0, len(resp.Suggestions))
	for i, s := range resp.Suggestions {
		start, err := parseStart(s.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("suggest: suggestion %d: %w", i+1, err)
		}
		if s.DurationHours <= 0 || math.IsNaN(s.DurationHours) {
			return nil, fmt.Errorf("suggest: suggestion %d: duration must be positive, got %v", i+1, s.DurationHours)
		}
		if s.DurationHours > maxDurationHours {
			return nil, fmt.Errorf("suggest: suggestion %d: duration %v hours exceeds %d", i+1, s.DurationHours, maxDurationHours)
		}
		dur := time.Duration(s.DurationHours * float64(time.Hour)).Round(time.Minute)
		out = append(out, model.EventTemplate{
			Summary:     title,
			Description: strings.TrimSpace(s.Explanation),
			Start:       start,
			End:         start.Add(dur),
			TimeZone:    loc.String(),
		})
	}
	return out, nil
}

func parseStart(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(layoutMinute, v, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unreadable start %q", v)
}

// extractObject returns the outermost {...} of text.
func extractObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
