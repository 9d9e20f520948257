package ics

import (
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"calsuggest/internal/model"
)

// DefaultProdID identifies documents written by Export.
const DefaultProdID = "-//calsuggest//suggestions//EN"

// Export serializes templates as a VCALENDAR with one VEVENT each. Templates
// without a UID get a random one. Times are written in UTC.
func Export(templates []model.EventTemplate, prodID string) ([]byte, error) {
	if len(templates) == 0 {
		return nil, errors.New("export: no templates")
	}
	if prodID == "" {
		prodID = DefaultProdID
	}

	cal := ical.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetMethod(ical.MethodPublish)

	now := time.Now().UTC()
	for _, t := range templates {
		uid := t.UID
		if uid == "" {
			uid = uuid.NewString()
		}
		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(now)
		ev.SetCreatedTime(now)
		ev.SetSummary(t.Summary)
		if t.Description != "" {
			ev.SetDescription(t.Description)
		}
		if t.Location != "" {
			ev.SetLocation(t.Location)
		}
		if t.AllDay {
			ev.SetAllDayStartAt(t.Start)
			ev.SetAllDayEndAt(t.End)
		} else {
			ev.SetStartAt(t.Start)
			ev.SetEndAt(t.End)
		}
		if t.Rule != nil && t.Rule.Raw != "" {
			ev.SetProperty(ical.ComponentPropertyRrule, t.Rule.Raw)
		}
	}

	return []byte(cal.Serialize()), nil
}
