package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration parses an RFC 5545 DURATION value (P1W, P1DT2H, PT45M).
// Negative durations are rejected: they are not meaningful for DTEND.
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	s = strings.TrimPrefix(s, "+")
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", v, err)
			}
			unit, ok := durationUnit(r, inTime)
			if !ok {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			total += time.Duration(n) * unit
			num = ""
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return total, nil
}

func durationUnit(r rune, inTime bool) (time.Duration, bool) {
	if inTime {
		switch r {
		case 'H':
			return time.Hour, true
		case 'M':
			return time.Minute, true
		case 'S':
			return time.Second, true
		}
		return 0, false
	}
	switch r {
	case 'W':
		return 7 * 24 * time.Hour, true
	case 'D':
		return 24 * time.Hour, true
	}
	return 0, false
}
