// Package aggregate merges the occurrences of several calendars into one
// chronological schedule.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"calsuggest/internal/ics"
	appLog "calsuggest/internal/log"
	"calsuggest/internal/model"
)

// Policy decides what happens when one source fails.
type Policy int

const (
	policyUnset Policy = iota
	// PolicyPartial drops failed sources and reports them in Failures.
	PolicyPartial
	// PolicyAllOrNothing aborts on the first failed source.
	PolicyAllOrNothing
)

func (p Policy) String() string {
	switch p {
	case PolicyPartial:
		return "partial"
	case PolicyAllOrNothing:
		return "fail"
	default:
		return "unset"
	}
}

// ParsePolicy maps the config value of on_source_error to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "partial":
		return PolicyPartial, nil
	case "fail", "all-or-nothing":
		return PolicyAllOrNothing, nil
	}
	return policyUnset, fmt.Errorf("unknown source error policy %q", s)
}

// ErrPolicyUnset is returned when Config.Policy is left at its zero value.
var ErrPolicyUnset = errors.New("aggregate: failure policy must be set")

// Source is one calendar's contribution. Exactly one of Err, Document or
// Occurrences is meaningful, checked in that order: a fetch error recorded
// upstream, a raw ICS document to materialize, or occurrences already
// materialized by a gateway.
type Source struct {
	ID   string
	Name string

	Document    []byte
	Occurrences []model.Occurrence
	Err         error
}

// Config controls one aggregation.
type Config struct {
	Window   model.Window
	Location *time.Location
	Policy   Policy

	MaxOccurrencesPerEvent int
}

// SourceError wraps the failure of a single source under PolicyAllOrNothing.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("aggregate: source %q: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Aggregate materializes every source over cfg.Window and merges the results.
// The merge is a stable sort by start in which equal starts keep the order
// of sources; nothing is deduplicated, so the same event in two calendars
// appears twice with different source ids.
func Aggregate(sources []Source, cfg Config) (*model.AggregatedSchedule, error) {
	if cfg.Policy != PolicyPartial && cfg.Policy != PolicyAllOrNothing {
		return nil, ErrPolicyUnset
	}
	if err := cfg.Window.Validate(); err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	sched := &model.AggregatedSchedule{
		Window:      cfg.Window,
		TimeZone:    loc.String(),
		Occurrences: make([]model.Occurrence, 0),
	}

	for _, src := range sources {
		occ, err := collect(src, cfg, loc, sched)
		if err != nil {
			if cfg.Policy == PolicyAllOrNothing {
				return nil, &SourceError{SourceID: src.ID, Err: err}
			}
			appLog.Error("aggregate: excluding failed source", err, "source", src.ID)
			sched.Failures = append(sched.Failures, model.SourceFailure{SourceID: src.ID, Err: err})
			continue
		}
		sched.Occurrences = append(sched.Occurrences, occ...)
	}

	sort.SliceStable(sched.Occurrences, func(i, j int) bool {
		return sched.Occurrences[i].Start.Before(sched.Occurrences[j].Start)
	})

	appLog.Debug("aggregate completed",
		"sources", len(sources),
		"occurrences", len(sched.Occurrences),
		"failures", len(sched.Failures),
	)
	return sched, nil
}

// collect returns one source's occurrences sorted by start, recording
// warnings and truncation on sched.
func collect(src Source, cfg Config, loc *time.Location, sched *model.AggregatedSchedule) ([]model.Occurrence, error) {
	if src.Err != nil {
		return nil, src.Err
	}

	if src.Document != nil {
		res, err := ics.Materialize(src.Document, ics.ExpandConfig{
			SourceID:               src.ID,
			DisplayLocation:        loc,
			RangeStart:             cfg.Window.Start,
			RangeEnd:               cfg.Window.End,
			MaxOccurrencesPerEvent: cfg.MaxOccurrencesPerEvent,
		})
		if err != nil {
			return nil, err
		}
		for _, w := range res.Warnings {
			sched.Warnings = append(sched.Warnings, src.ID+": "+w.Error())
		}
		for _, uid := range res.TruncatedEvents {
			sched.Truncated = append(sched.Truncated, src.ID+": "+uid)
		}
		return res.Occurrences, nil
	}

	out := make([]model.Occurrence, 0, len(src.Occurrences))
	for _, o := range src.Occurrences {
		o = o.InLocation(loc)
		if !cfg.Window.Intersects(o.Start, o.End) {
			continue
		}
		o.SourceID = src.ID
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}
