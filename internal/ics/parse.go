package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calsuggest/internal/log"
	"calsuggest/internal/model"
)

const (
	propRecurrenceID = "RECURRENCE-ID"
	propDuration     = "DURATION"
	propStatus       = "STATUS"
	propWRTimezone   = "X-WR-TIMEZONE"
	propTZID         = "TZID"
	propTZOffsetTo   = "TZOFFSETTO"
)

// ParseOptions controls how a document is interpreted.
type ParseOptions struct {
	// DefaultLocation resolves floating times when the calendar carries no
	// X-WR-TIMEZONE. If nil, UTC is used.
	DefaultLocation *time.Location
}

// Calendar is a parsed calendar-exchange document: master templates plus
// the overrides (RECURRENCE-ID blocks and EXDATEs) that apply to them, both
// in document order.
type Calendar struct {
	Location  *time.Location
	Templates []model.EventTemplate
	Overrides []model.OccurrenceOverride
}

// Parse parses an ICS payload into templates and overrides.
//
//   - Line grammar (folding, BEGIN/END, parameters) is handled by golang-ical.
//   - DTSTART/DTEND/RECURRENCE-ID/EXDATE are resolved with their TZID/VALUE
//     parameters; floating values use X-WR-TIMEZONE or opts.DefaultLocation.
//   - RRULEs are validated here; expansion is done in expand.go.
//
// Any malformed template fails the whole document with *ParseError.
func Parse(body []byte, opts ParseOptions) (*Calendar, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Err: errors.New("empty ICS body")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	def := opts.DefaultLocation
	if def == nil {
		def = time.UTC
	}
	zones := newZoneResolver(def)
	defineZones(cal, zones)
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, propWRTimezone) && strings.TrimSpace(p.Value) != "" {
			def = zones.resolve(p.Value)
			zones.fallback = def
			break
		}
	}

	out := &Calendar{Location: def}

	for _, ve := range cal.Events() {
		tmpl, rid, cancelled, exdates, perr := parseVEvent(ve, zones)
		if perr != nil {
			return nil, perr
		}

		if rid != nil {
			ov := model.OccurrenceOverride{
				UID:          tmpl.UID,
				RecurrenceID: *rid,
				Cancelled:    cancelled,
			}
			if !cancelled {
				t := tmpl
				ov.Template = &t
			}
			out.Overrides = append(out.Overrides, ov)
			continue
		}

		out.Templates = append(out.Templates, tmpl)
		for _, ex := range exdates {
			out.Overrides = append(out.Overrides, model.OccurrenceOverride{
				UID:          tmpl.UID,
				RecurrenceID: ex,
				Cancelled:    true,
			})
		}
	}

	appLog.Debug("ics parse completed",
		"templates", len(out.Templates),
		"overrides", len(out.Overrides),
		"timezone", def.String(),
	)
	return out, nil
}

// defineZones registers the standard offset of every VTIMEZONE in the
// document, for TZIDs that neither the IANA database nor the Windows table
// knows.
func defineZones(cal *ical.Calendar, zones *zoneResolver) {
	for _, c := range cal.Components {
		tz, ok := c.(*ical.VTimezone)
		if !ok {
			continue
		}
		tzid := ""
		for _, p := range tz.Properties {
			if strings.EqualFold(p.IANAToken, propTZID) {
				tzid = p.Value
			}
		}
		for _, sub := range tz.Components {
			std, ok := sub.(*ical.Standard)
			if !ok {
				continue
			}
			for _, p := range std.Properties {
				if !strings.EqualFold(p.IANAToken, propTZOffsetTo) {
					continue
				}
				off, err := parseUTCOffset(p.Value)
				if err != nil {
					appLog.Warn("ics ignoring VTIMEZONE offset", "tzid", tzid, "error", err.Error())
					continue
				}
				zones.define(tzid, off)
			}
			break
		}
	}
}

func parseVEvent(ve *ical.VEvent, zones *zoneResolver) (tmpl model.EventTemplate, rid *time.Time, cancelled bool, exdates []time.Time, err error) {
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		tmpl.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		tmpl.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		tmpl.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		tmpl.Location = p.Value
	}
	if tmpl.Summary == "" {
		tmpl.Summary = "Untitled Event"
	}

	fail := func(prop string, e error) error {
		return &ParseError{UID: tmpl.UID, Summary: tmpl.Summary, Property: prop, Err: e}
	}

	// SEQUENCE (optional, used for overrides/versioning)
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, aerr := strconv.Atoi(strings.TrimSpace(p.Value)); aerr == nil {
			tmpl.Sequence = n
		}
	}

	if p := ve.GetProperty(propStatus); p != nil {
		cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	// DTSTART is mandatory.
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return tmpl, nil, false, nil, fail("DTSTART", errors.New("missing"))
	}
	start, perr := zones.parseTimeValue(dtStart.Value, dtStart.ICalParameters)
	if perr != nil {
		return tmpl, nil, false, nil, fail("DTSTART", perr)
	}
	tmpl.Start = start.Time
	tmpl.AllDay = start.AllDay
	tmpl.TimeZone = start.TZID

	// DTEND, else DURATION, else a default length.
	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, eerr := zones.parseTimeValue(p.Value, p.ICalParameters)
		if eerr != nil {
			return tmpl, nil, false, nil, fail("DTEND", eerr)
		}
		tmpl.End = end.Time
	case ve.GetProperty(propDuration) != nil:
		d, derr := parseDuration(ve.GetProperty(propDuration).Value)
		if derr != nil {
			return tmpl, nil, false, nil, fail("DURATION", derr)
		}
		tmpl.End = tmpl.Start.Add(d)
	case tmpl.AllDay:
		tmpl.End = tmpl.Start.AddDate(0, 0, 1)
	default:
		tmpl.End = tmpl.Start.Add(time.Hour)
	}
	if tmpl.End.Before(tmpl.Start) {
		return tmpl, nil, false, nil, fail("DTEND", fmt.Errorf("end %s before start %s",
			tmpl.End.Format(time.RFC3339), tmpl.Start.Format(time.RFC3339)))
	}

	// RECURRENCE-ID (overridden instance)
	if p := ve.GetProperty(propRecurrenceID); p != nil {
		tv, rerr := zones.parseTimeValue(p.Value, p.ICalParameters)
		if rerr != nil {
			return tmpl, nil, false, nil, fail(propRecurrenceID, rerr)
		}
		t := tv.Time
		rid = &t
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && rid == nil {
		rule, rerr := ParseRule(p.Value, tmpl.Start.Location())
		if rerr != nil {
			return tmpl, nil, false, nil, fail("RRULE", rerr)
		}
		tmpl.Rule = rule
	}

	// EXDATE (can appear multiple times, each a comma-separated list)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			tv, xerr := zones.parseTimeValue(part, p.ICalParameters)
			if xerr != nil {
				return tmpl, nil, false, nil, fail("EXDATE", xerr)
			}
			exdates = append(exdates, tv.Time)
		}
	}

	return tmpl, rid, cancelled, exdates, nil
}
