// Package gcal reads and writes Google Calendar events.
package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calsuggest/internal/config"
	appLog "calsuggest/internal/log"
	"calsuggest/internal/model"
)

const dateLayout = "2006-01-02"

// Client wraps the Google Calendar API service.
type Client struct {
	service *calendar.Service
}

// New builds a client from the configured credentials file: a service
// account key, or installed-app client credentials plus an existing token
// at cfg.TokenPath. The token is used as-is; no consent flow is run.
func New(ctx context.Context, cfg config.GoogleConfig) (*Client, error) {
	if cfg.CredentialsPath == "" {
		return nil, errors.New("gcal: credentials_path is empty")
	}
	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("gcal: read credentials: %w", err)
	}
	return newFromJSON(ctx, data, cfg.TokenPath)
}

func newFromJSON(ctx context.Context, credentialsJSON []byte, tokenPath string) (*Client, error) {
	if jwtCfg, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope); err == nil {
		return NewWithOptions(ctx, option.WithTokenSource(jwtCfg.TokenSource(ctx)))
	}

	oauthCfg, err := google.ConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("gcal: unsupported credentials format: %w", err)
	}
	if tokenPath == "" {
		return nil, errors.New("gcal: installed-app credentials need token_path")
	}
	tokenData, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("gcal: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenData, &tok); err != nil {
		return nil, fmt.Errorf("gcal: parse token: %w", err)
	}
	return NewWithOptions(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, &tok)))
}

// NewWithOptions creates a client from raw API options (tests point it at
// an httptest server).
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: create calendar service: %w", err)
	}
	return &Client{service: svc}, nil
}

// ListEvents returns every instance overlapping window, recurring events
// already expanded by the server. Cancelled instances are skipped.
func (c *Client) ListEvents(ctx context.Context, calendarID string, window model.Window) ([]model.Occurrence, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	out := make([]model.Occurrence, 0)
	call := c.service.Events.List(calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false).
		TimeMin(window.Start.Format(time.RFC3339)).
		TimeMax(window.End.Format(time.RFC3339))

	err := call.Pages(ctx, func(page *calendar.Events) error {
		loc := time.UTC
		if page.TimeZone != "" {
			if l, err := time.LoadLocation(page.TimeZone); err == nil {
				loc = l
			}
		}
		for _, ev := range page.Items {
			if ev.Status == "cancelled" {
				continue
			}
			occ, err := toOccurrence(ev, loc)
			if err != nil {
				appLog.Warn("gcal: skipping event with unreadable times", "calendar", calendarID, "id", ev.Id, "err", err)
				continue
			}
			occ.SourceID = calendarID
			out = append(out, occ)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcal: list events in %s: %w", calendarID, err)
	}

	appLog.Debug("gcal list completed", "calendar", calendarID, "events", len(out))
	return out, nil
}

// CreateEvent inserts t into calendarID and returns the new event id.
// All-day templates are written as dates, others as date-times with the
// template's timezone.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, t model.EventTemplate) (string, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	ev := &calendar.Event{
		Summary:     t.Summary,
		Description: t.Description,
		Location:    t.Location,
		Start:       toEventDateTime(t.Start, t.AllDay, t.TimeZone),
		End:         toEventDateTime(t.End, t.AllDay, t.TimeZone),
	}
	if t.UID != "" {
		ev.ICalUID = t.UID
	}
	if t.Rule != nil && t.Rule.Raw != "" {
		ev.Recurrence = []string{"RRULE:" + t.Rule.Raw}
	}

	created, err := c.service.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gcal: create event in %s: %w", calendarID, err)
	}
	appLog.Info("gcal event created", "calendar", calendarID, "id", created.Id, "summary", t.Summary)
	return created.Id, nil
}

func toEventDateTime(ts time.Time, allDay bool, tz string) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: ts.Format(dateLayout)}
	}
	if tz == "" {
		tz = ts.Location().String()
	}
	if tz == "Local" {
		tz = ""
	}
	return &calendar.EventDateTime{DateTime: ts.Format(time.RFC3339), TimeZone: tz}
}

func toOccurrence(ev *calendar.Event, loc *time.Location) (model.Occurrence, error) {
	start, allDay, err := parseEventDateTime(ev.Start, loc)
	if err != nil {
		return model.Occurrence{}, fmt.Errorf("start: %w", err)
	}
	end, _, err := parseEventDateTime(ev.End, loc)
	if err != nil {
		return model.Occurrence{}, fmt.Errorf("end: %w", err)
	}

	key := start
	if ev.OriginalStartTime != nil {
		if orig, _, err := parseEventDateTime(ev.OriginalStartTime, loc); err == nil {
			key = orig
		}
	}

	summary := ev.Summary
	if summary == "" {
		summary = "Untitled Event"
	}
	return model.Occurrence{
		UID:         ev.ICalUID,
		InstanceKey: key.UTC().Format(time.RFC3339),
		Summary:     summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      allDay,
		Recurring:   ev.RecurringEventId != "",
		Start:       start,
		End:         end,
	}, nil
}

func parseEventDateTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, errors.New("missing")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		return t, true, err
	}
	return time.Time{}, false, errors.New("neither date nor dateTime set")
}
