package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	appLog "calsuggest/internal/log"
)

// timeValue is a parsed DATE or DATE-TIME property value.
type timeValue struct {
	Time   time.Time
	AllDay bool
	TZID   string
}

// zoneResolver resolves TZID parameters, caching lookups for one document.
type zoneResolver struct {
	fallback *time.Location
	cache    map[string]*time.Location
	// defined holds fixed-offset zones built from the document's VTIMEZONEs.
	defined map[string]*time.Location
}

func newZoneResolver(fallback *time.Location) *zoneResolver {
	if fallback == nil {
		fallback = time.UTC
	}
	return &zoneResolver{
		fallback: fallback,
		cache:    make(map[string]*time.Location),
		defined:  make(map[string]*time.Location),
	}
}

// define registers a VTIMEZONE's standard offset for tzid.
func (z *zoneResolver) define(tzid string, offset int) {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if tzid == "" {
		return
	}
	z.defined[tzid] = time.FixedZone(tzid, offset)
}

// resolve maps a TZID to a location, trying in order:
//
//   - the IANA database;
//   - the IANA id behind a vendor prefix, e.g.
//     "/mozilla.org/20070129_1/Europe/Paris" is reduced to "Europe/Paris";
//   - the Windows zone table, e.g. "Pacific Standard Time";
//   - the document's VTIMEZONE, as a fixed standard offset.
//
// Anything else falls back to the calendar default with a warning.
func (z *zoneResolver) resolve(tzid string) *time.Location {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if tzid == "" {
		return z.fallback
	}
	if loc, ok := z.cache[tzid]; ok {
		return loc
	}

	loc, err := time.LoadLocation(tzid)
	if err != nil && strings.Contains(tzid, "/") {
		parts := strings.Split(strings.Trim(tzid, "/"), "/")
		if len(parts) >= 2 {
			loc, err = time.LoadLocation(strings.Join(parts[len(parts)-2:], "/"))
		}
	}
	if err != nil {
		if name, ok := windowsZones[tzid]; ok {
			loc, err = time.LoadLocation(name)
		}
	}
	if err != nil {
		if def, ok := z.defined[tzid]; ok {
			appLog.Warn("ics TZID resolved from VTIMEZONE standard offset; DST rules ignored", "tzid", tzid, "zone", def.String())
			loc, err = def, nil
		}
	}
	if err != nil {
		appLog.Warn("ics unknown TZID; using calendar default", "tzid", tzid, "fallback", z.fallback.String())
		loc = z.fallback
	}
	z.cache[tzid] = loc
	return loc
}

// parseUTCOffset reads a TZOFFSETTO/TZOFFSETFROM value ("+0530", "-0800",
// "+013045") as seconds east of UTC.
func parseUTCOffset(v string) (int, error) {
	v = strings.TrimSpace(v)
	if len(v) != 5 && len(v) != 7 {
		return 0, fmt.Errorf("bad UTC offset %q", v)
	}
	sign := 1
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("bad UTC offset %q", v)
	}
	secs := 0
	for i, unit := range []int{3600, 60, 1} {
		if 1+2*i >= len(v) {
			break
		}
		n, err := strconv.Atoi(v[1+2*i : 3+2*i])
		if err != nil || n < 0 || n > 59 {
			return 0, fmt.Errorf("bad UTC offset %q", v)
		}
		secs += n * unit
	}
	return sign * secs, nil
}

// parseTimeValue parses a DATE or DATE-TIME value using the property's
// parameters (TZID, VALUE). Floating values resolve in the resolver's
// fallback location.
func (z *zoneResolver) parseTimeValue(v string, params map[string][]string) (timeValue, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return timeValue{}, errors.New("empty time value")
	}

	tzid := firstParam(params, "TZID")
	loc := z.resolve(tzid)

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return timeValue{}, err
		}
		return timeValue{Time: t, TZID: "UTC"}, nil
	}

	dateOnly := !strings.Contains(v, "T") || strings.EqualFold(firstParam(params, "VALUE"), "DATE")

	// Date-only (all-day), e.g., 20250101
	if dateOnly {
		if len(v) > 8 {
			v = v[:8]
		}
		t, err := time.ParseInLocation("20060102", v, loc)
		if err != nil {
			return timeValue{}, err
		}
		return timeValue{Time: t, AllDay: true, TZID: loc.String()}, nil
	}

	// Local date-time, e.g., 20250101T090000
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	if err != nil {
		return timeValue{}, err
	}
	return timeValue{Time: t, TZID: loc.String()}, nil
}

func firstParam(params map[string][]string, key string) string {
	if params == nil {
		return ""
	}
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
