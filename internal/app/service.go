// Package app wires calendars, the aggregator and the suggestion engine
// into request/response operations shared by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"calsuggest/internal/aggregate"
	"calsuggest/internal/config"
	"calsuggest/internal/ics"
	appLog "calsuggest/internal/log"
	"calsuggest/internal/metrics"
	"calsuggest/internal/model"
	"calsuggest/internal/suggest"
)

// SuggestedSourceID tags the proposed event inside Proposal.Day.
const SuggestedSourceID = "suggested"

var (
	ErrNoGateway     = errors.New("app: google calendar is not configured")
	ErrNoSuggester   = errors.New("app: suggestion engine is not configured")
	ErrNoDestination = errors.New("app: neither google.write_calendar_id nor export_path is configured")
)

// Fetcher reads ICS documents.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Gateway is an external calendar read/write API.
type Gateway interface {
	ListEvents(ctx context.Context, calendarID string, window model.Window) ([]model.Occurrence, error)
	CreateEvent(ctx context.Context, calendarID string, t model.EventTemplate) (string, error)
}

// Suggester proposes new events for a schedule.
type Suggester interface {
	Suggest(ctx context.Context, req suggest.Request) ([]model.EventTemplate, error)
}

// Service runs schedule, propose and accept operations. Gateway and
// Suggester may be nil when not configured.
type Service struct {
	cfg       *config.Config
	loc       *time.Location
	policy    aggregate.Policy
	fetcher   Fetcher
	gateway   Gateway
	suggester Suggester
	now       func() time.Time
}

// New validates cfg and builds a Service.
func New(cfg *config.Config, fetcher Fetcher, gateway Gateway, suggester Suggester) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if fetcher == nil {
		return nil, errors.New("app: fetcher is nil")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy, err := aggregate.ParsePolicy(cfg.OnSourceError)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		loc:       loc,
		policy:    policy,
		fetcher:   fetcher,
		gateway:   gateway,
		suggester: suggester,
		now:       time.Now,
	}, nil
}

// Location is the display timezone.
func (s *Service) Location() *time.Location { return s.loc }

// Now returns the current time in the display timezone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// DayWindow returns [midnight of start's date, +days) in the display
// timezone. A zero start means today.
func (s *Service) DayWindow(start time.Time, days int) model.Window {
	if start.IsZero() {
		start = s.Now()
	}
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	y, m, d := start.In(s.loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	return model.Window{Start: from, End: from.AddDate(0, 0, days)}
}

// Schedule reads every configured calendar, in config order, and merges
// them over window with the configured failure policy.
func (s *Service) Schedule(ctx context.Context, window model.Window) (*model.AggregatedSchedule, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	sources := make([]aggregate.Source, 0, len(s.cfg.Calendars))
	for _, cal := range s.cfg.Calendars {
		src := aggregate.Source{ID: cal.ID, Name: cal.Name}
		switch {
		case cal.URL != "" || cal.Path != "":
			res, err := s.fetcher.FetchOne(ctx, ics.Source{ID: cal.ID, URL: cal.URL, Path: cal.Path})
			if err != nil {
				src.Err = err
			} else {
				src.Document = res.Body
			}
		case cal.GoogleID != "":
			if s.gateway == nil {
				src.Err = ErrNoGateway
				break
			}
			occ, err := s.gateway.ListEvents(ctx, cal.GoogleID, window)
			if err != nil {
				src.Err = err
			} else {
				src.Occurrences = occ
			}
		default:
			src.Err = fmt.Errorf("calendar %q has no url, path or google_id", cal.ID)
		}
		sources = append(sources, src)

		if src.Err != nil && s.policy == aggregate.PolicyAllOrNothing {
			break
		}
	}

	sched, err := aggregate.Aggregate(sources, aggregate.Config{
		Window:                 window,
		Location:               s.loc,
		Policy:                 s.policy,
		MaxOccurrencesPerEvent: s.cfg.MaxOccurrencesPerEvent,
	})
	if err != nil {
		var se *aggregate.SourceError
		if errors.As(err, &se) {
			metrics.RecordSourceFailure(se.SourceID)
		}
		return nil, err
	}
	metrics.RecordSchedule(sched)

	appLog.Info("schedule built",
		"start", window.Start.Format(time.RFC3339),
		"end", window.End.Format(time.RFC3339),
		"occurrences", len(sched.Occurrences),
		"failures", len(sched.Failures),
	)
	return sched, nil
}

// ProposeRequest asks for a new event within Days days from Start.
type ProposeRequest struct {
	Start    time.Time
	Days     int
	Request  string
	Title    string
	Feedback []string
}

// Proposal is one suggestion round.
type Proposal struct {
	Schedule    *model.AggregatedSchedule
	Suggestions []model.EventTemplate
	// Day is the schedule of the first suggestion's date with the
	// suggestion merged in.
	Day []model.Occurrence
}

// Propose builds the schedule for the request window and asks the
// suggestion engine for a slot.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	if s.suggester == nil {
		return nil, ErrNoSuggester
	}
	window := s.DayWindow(req.Start, req.Days)
	sched, err := s.Schedule(ctx, window)
	if err != nil {
		return nil, err
	}

	suggestions, err := s.suggester.Suggest(ctx, suggest.Request{
		Schedule: sched.Occurrences,
		Location: s.loc,
		Now:      s.Now(),
		Request:  req.Request,
		Title:    req.Title,
		Feedback: req.Feedback,
	})
	if err != nil {
		metrics.RecordSuggestion(metrics.SuggestionError)
		return nil, err
	}
	if len(suggestions) == 0 {
		metrics.RecordSuggestion(metrics.SuggestionError)
		return nil, suggest.ErrNoSuggestion
	}
	metrics.RecordSuggestion(metrics.SuggestionOK)

	p := &Proposal{Schedule: sched, Suggestions: suggestions}
	p.Day = s.dayWith(ctx, sched, suggestions[0])
	return p, nil
}

func (s *Service) dayWith(ctx context.Context, sched *model.AggregatedSchedule, t model.EventTemplate) []model.Occurrence {
	day := s.DayWindow(t.Start, 1)

	var existing []model.Occurrence
	if !day.Start.Before(sched.Window.Start) && !day.End.After(sched.Window.End) {
		existing = sched.OnDate(day.Start)
	} else if other, err := s.Schedule(ctx, day); err == nil {
		existing = other.Occurrences
	} else {
		appLog.Error("propose: could not load schedule of suggested day", err, "day", day.Start.Format("2006-01-02"))
	}

	out := make([]model.Occurrence, 0, len(existing)+1)
	out = append(out, existing...)
	out = append(out, model.Occurrence{
		SourceID:    SuggestedSourceID,
		Summary:     t.Summary,
		Description: t.Description,
		AllDay:      t.AllDay,
		Start:       t.Start.In(s.loc),
		End:         t.End.In(s.loc),
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Accept stores an accepted suggestion: in the configured Google calendar
// when a gateway exists, else in export_path as ICS. It returns the event
// id (Google) or UID (export).
func (s *Service) Accept(ctx context.Context, t model.EventTemplate) (string, error) {
	if t.TimeZone == "" {
		t.TimeZone = s.loc.String()
	}
	if s.gateway != nil && s.cfg.Google.WriteCalendarID != "" {
		id, err := s.gateway.CreateEvent(ctx, s.cfg.Google.WriteCalendarID, t)
		if err != nil {
			return "", err
		}
		metrics.RecordSuggestion(metrics.SuggestionAccepted)
		return id, nil
	}
	if s.cfg.ExportPath == "" {
		return "", ErrNoDestination
	}

	if t.UID == "" {
		t.UID = uuid.NewString()
	}
	if err := s.appendExport(t); err != nil {
		return "", err
	}
	metrics.RecordSuggestion(metrics.SuggestionAccepted)
	appLog.Info("accepted event exported", "path", s.cfg.ExportPath, "uid", t.UID, "summary", t.Summary)
	return t.UID, nil
}

// appendExport rewrites export_path with its previous events plus t.
func (s *Service) appendExport(t model.EventTemplate) error {
	path := s.cfg.ExportPath
	templates := make([]model.EventTemplate, 0, 1)

	if data, err := os.ReadFile(path); err == nil {
		prev, perr := ics.Parse(data, ics.ParseOptions{DefaultLocation: s.loc})
		if perr != nil {
			return fmt.Errorf("app: existing export %s: %w", path, perr)
		}
		templates = append(templates, prev.Templates...)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	templates = append(templates, t)

	out, err := ics.Export(templates, ics.DefaultProdID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".calsuggest-export-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
