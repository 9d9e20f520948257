package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"calsuggest/internal/model"
)

// ParseRule validates an RRULE value and returns its immutable model form.
// loc is used for floating UNTIL values. Unsupported frequencies and
// non-positive intervals are errors rather than silently defaulted.
func ParseRule(raw string, loc *time.Location) (*model.RecurrenceRule, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "RRULE:")
	if raw == "" {
		return nil, errors.New("empty RRULE")
	}

	rule := &model.RecurrenceRule{Interval: 1, Raw: raw}

	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed RRULE part %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "FREQ":
			freq, err := parseFrequency(val)
			if err != nil {
				return nil, err
			}
			rule.Frequency = freq
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("INTERVAL must be a positive integer, got %q", val)
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("COUNT must be a positive integer, got %q", val)
			}
			rule.Count = n
		case "UNTIL":
			z := newZoneResolver(loc)
			tv, err := z.parseTimeValue(val, nil)
			if err != nil {
				return nil, fmt.Errorf("invalid UNTIL %q: %w", val, err)
			}
			rule.Until = tv.Time
		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				d = strings.ToUpper(strings.TrimSpace(d))
				if d != "" {
					rule.ByDay = append(rule.ByDay, d)
				}
			}
		case "BYMONTHDAY":
			for _, d := range strings.Split(val, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(d))
				if err != nil || n == 0 || n < -31 || n > 31 {
					return nil, fmt.Errorf("invalid BYMONTHDAY %q", d)
				}
				rule.ByMonthDay = append(rule.ByMonthDay, n)
			}
		}
	}

	if rule.Frequency == "" {
		return nil, errors.New("RRULE has no FREQ")
	}
	if rule.Count > 0 && !rule.Until.IsZero() {
		return nil, errors.New("RRULE sets both COUNT and UNTIL")
	}

	// Let rrule-go validate the remaining parts (BYSETPOS, BYMONTH, ...).
	if _, err := rrule.StrToROptionInLocation(raw, loc); err != nil {
		return nil, fmt.Errorf("invalid RRULE: %w", err)
	}

	return rule, nil
}

func parseFrequency(v string) (model.Frequency, error) {
	switch model.Frequency(strings.ToUpper(v)) {
	case model.Daily:
		return model.Daily, nil
	case model.Weekly:
		return model.Weekly, nil
	case model.Monthly:
		return model.Monthly, nil
	case model.Yearly:
		return model.Yearly, nil
	}
	return "", fmt.Errorf("unsupported FREQ %q", v)
}

// buildRRule turns a parsed rule into an rrule-go iterator anchored at the
// template start, in the template's own location.
func buildRRule(rule *model.RecurrenceRule, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROptionInLocation(rule.Raw, dtstart.Location())
	if err != nil {
		return nil, err
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}
