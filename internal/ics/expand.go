package ics

import (
	"errors"
	"sort"
	"time"

	appLog "calsuggest/internal/log"
	"calsuggest/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// SourceID tags every produced occurrence.
	SourceID string

	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, UTC is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid extremely large
	// expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

func (c ExpandConfig) window() model.Window {
	return model.Window{Start: c.RangeStart, End: c.RangeEnd}
}

// ExpandResult wraps the list of expanded occurrences and information about
// truncation and skipped overrides.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
	// Warnings holds *OverrideKeyError values for stale overrides.
	Warnings []error
}

// Materialize parses body and expands it over the configured window.
// Floating times in the document default to cfg.DisplayLocation.
func Materialize(body []byte, cfg ExpandConfig) (ExpandResult, error) {
	if err := cfg.window().Validate(); err != nil {
		return ExpandResult{}, err
	}
	cal, err := Parse(body, ParseOptions{DefaultLocation: cfg.DisplayLocation})
	if err != nil {
		return ExpandResult{}, err
	}
	return Expand(cal, cfg)
}

// Expand turns templates and overrides into concrete occurrences within the
// window. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence (DAILY/WEEKLY/MONTHLY/YEARLY)
//   - EXDATE and STATUS:CANCELLED overrides (cancellations)
//   - RECURRENCE-ID overrides (moved/edited instances)
//
// The result is sorted by start and converted to cfg.DisplayLocation. Expand
// keeps no state between calls: the same input always yields the same output.
func Expand(cal *Calendar, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if err := cfg.window().Validate(); err != nil {
		return result, err
	}
	if cal == nil {
		return result, &ParseError{Err: errors.New("nil calendar")}
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	masters := make(map[string]bool, len(cal.Templates))
	for _, t := range cal.Templates {
		masters[t.UID] = true
	}

	idx := newOverrideIndex(cal.Overrides)
	out := make([]model.Occurrence, 0)

	for _, t := range cal.Templates {
		e := &expander{tmpl: t, cfg: cfg, overrides: idx.forUID(t.UID)}
		occ, warnings, err := e.run()
		if err != nil {
			return ExpandResult{}, err
		}
		out = append(out, occ...)
		result.Warnings = append(result.Warnings, warnings...)
		if e.hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, t.UID)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", t.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	// Overrides without a master: modifications stand alone, cancellations
	// have nothing to cancel.
	w := cfg.window()
	for _, ov := range cal.Overrides {
		if masters[ov.UID] || ov.Cancelled || ov.Template == nil {
			continue
		}
		occ := makeOccurrence(*ov.Template, ov.Template.Start, ov.Template.End, ov.RecurrenceID, cfg)
		if w.Intersects(occ.Start, occ.End) {
			occ.Modified = true
			out = append(out, occ)
		}
	}

	for _, wrn := range result.Warnings {
		var oke *OverrideKeyError
		if errors.As(wrn, &oke) {
			appLog.Warn("expand: skipping stale override",
				"source", cfg.SourceID,
				"uid", oke.UID,
				"recurrence_id", oke.RecurrenceID.UTC().Format(time.RFC3339),
			)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	result.Occurrences = out
	return result, nil
}

// expander materializes a single template with its overrides.
type expander struct {
	tmpl      model.EventTemplate
	cfg       ExpandConfig
	overrides *uidOverrides
	emitted   int
	hitCap    bool
}

func (e *expander) run() ([]model.Occurrence, []error, error) {
	if !e.tmpl.Recurring() {
		return e.runSingle()
	}
	return e.runRecurring()
}

// runSingle treats a non-recurring template as a series of one whose only
// instance is keyed by its own start.
func (e *expander) runSingle() ([]model.Occurrence, []error, error) {
	var out []model.Occurrence
	start := e.tmpl.Start
	if occ, ok := e.visit(start); ok {
		out = append(out, occ)
	}
	return out, e.staleOverrides(nil), nil
}

func (e *expander) runRecurring() ([]model.Occurrence, []error, error) {
	r, err := buildRRule(e.tmpl.Rule, e.tmpl.Start)
	if err != nil {
		return nil, nil, &ParseError{UID: e.tmpl.UID, Summary: e.tmpl.Summary, Property: "RRULE", Err: err}
	}

	out := make([]model.Occurrence, 0)

	// Walk the series from its first instance so that COUNT is measured
	// against the whole series, not the window. Stop at the rule's own end
	// or at the first candidate starting at/after the window end.
	// All-day instances keep their date in the display zone, so a day
	// starting after the window end in absolute time may still be shown in it.
	stop := e.cfg.RangeEnd
	if e.tmpl.AllDay {
		stop = stop.Add(24 * time.Hour)
	}
	next := r.Iterator()
	for {
		cand, ok := next()
		if !ok || !cand.Before(stop) {
			break
		}
		if e.emitted >= e.cfg.MaxOccurrencesPerEvent {
			e.hitCap = true
			break
		}
		if occ, ok := e.visit(cand); ok {
			out = append(out, occ)
			e.emitted++
		}
	}

	// Instances past the window end that were moved into the window.
	isMember := func(key time.Time) bool {
		return len(r.Between(key, key, true)) > 0
	}
	for _, ov := range e.overrides.pending() {
		if ov.Cancelled || ov.Template == nil || !isMember(ov.RecurrenceID) {
			continue
		}
		e.overrides.take(ov.RecurrenceID)
		occ := makeOccurrence(*ov.Template, ov.Template.Start, ov.Template.End, ov.RecurrenceID, e.cfg)
		if e.cfg.window().Intersects(occ.Start, occ.End) && !e.hitCap {
			occ.Recurring = true
			occ.Modified = true
			out = append(out, occ)
			e.emitted++
		}
	}

	return out, e.staleOverrides(isMember), nil
}

// visit applies the override (if any) for one candidate start and reports
// whether the resulting instance belongs in the window.
func (e *expander) visit(cand time.Time) (model.Occurrence, bool) {
	w := e.cfg.window()
	if ov, ok := e.overrides.take(cand); ok {
		if ov.Cancelled || ov.Template == nil {
			return model.Occurrence{}, false
		}
		occ := makeOccurrence(*ov.Template, ov.Template.Start, ov.Template.End, cand, e.cfg)
		if !w.Intersects(occ.Start, occ.End) {
			return model.Occurrence{}, false
		}
		occ.Recurring = e.tmpl.Recurring()
		occ.Modified = true
		return occ, true
	}

	occ := makeOccurrence(e.tmpl, cand, cand.Add(e.tmpl.Duration()), cand, e.cfg)
	if !w.Intersects(occ.Start, occ.End) {
		return model.Occurrence{}, false
	}
	occ.Recurring = e.tmpl.Recurring()
	return occ, true
}

// staleOverrides reports overrides that never matched an instance. Members
// of the series that were simply outside the window are not stale.
func (e *expander) staleOverrides(isMember func(time.Time) bool) []error {
	var out []error
	for _, ov := range e.overrides.pending() {
		if isMember != nil && isMember(ov.RecurrenceID) {
			continue
		}
		out = append(out, &OverrideKeyError{UID: ov.UID, RecurrenceID: ov.RecurrenceID})
	}
	return out
}

// makeOccurrence converts a (possibly overridden) template + specific
// start/end time into a model.Occurrence normalized into the display zone.
// All-day occurrences keep their calendar date.
func makeOccurrence(t model.EventTemplate, start, end, key time.Time, cfg ExpandConfig) model.Occurrence {
	occ := model.Occurrence{
		SourceID:    cfg.SourceID,
		UID:         t.UID,
		InstanceKey: key.UTC().Format(time.RFC3339),
		Summary:     t.Summary,
		Description: t.Description,
		Location:    t.Location,
		AllDay:      t.AllDay,
		Start:       start,
		End:         end,
	}
	return occ.InLocation(cfg.DisplayLocation)
}

// overrideIndex groups overrides by UID, preserving document order.
type overrideIndex struct {
	byUID map[string][]model.OccurrenceOverride
}

func newOverrideIndex(ovs []model.OccurrenceOverride) *overrideIndex {
	idx := &overrideIndex{byUID: make(map[string][]model.OccurrenceOverride)}
	for _, ov := range ovs {
		idx.byUID[ov.UID] = append(idx.byUID[ov.UID], ov)
	}
	return idx
}

// forUID returns a fresh per-expansion view; taking an override from it does
// not affect other templates or later calls.
func (x *overrideIndex) forUID(uid string) *uidOverrides {
	u := &uidOverrides{byKey: make(map[int64]int)}
	for _, ov := range x.byUID[uid] {
		key := ov.RecurrenceID.UnixNano()
		if i, dup := u.byKey[key]; dup {
			// A cancellation (EXDATE) wins over a modification of the
			// same instance; between equals the later block wins.
			if ov.Cancelled || !u.list[i].Cancelled {
				u.list[i] = ov
			}
			continue
		}
		u.byKey[key] = len(u.list)
		u.list = append(u.list, ov)
		u.used = append(u.used, false)
	}
	return u
}

type uidOverrides struct {
	list  []model.OccurrenceOverride
	used  []bool
	byKey map[int64]int
}

// take looks up an override by exact instant and marks it consumed.
func (u *uidOverrides) take(key time.Time) (model.OccurrenceOverride, bool) {
	i, ok := u.byKey[key.UnixNano()]
	if !ok || u.used[i] {
		return model.OccurrenceOverride{}, false
	}
	u.used[i] = true
	return u.list[i], true
}

func (u *uidOverrides) pending() []model.OccurrenceOverride {
	out := make([]model.OccurrenceOverride, 0)
	for i, ov := range u.list {
		if !u.used[i] {
			out = append(out, ov)
		}
	}
	return out
}
