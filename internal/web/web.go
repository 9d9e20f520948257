package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"calsuggest/internal/app"
	"calsuggest/internal/config"
	appLog "calsuggest/internal/log"
	"calsuggest/internal/metrics"
	"calsuggest/internal/model"
)

const (
	eventsCacheSize = 32
	eventsCacheTTL  = 5 * time.Minute
	maxBodyBytes    = 64 << 10
)

// Planner is the part of app.Service the API needs.
type Planner interface {
	Location() *time.Location
	Now() time.Time
	DayWindow(start time.Time, days int) model.Window
	Schedule(ctx context.Context, window model.Window) (*model.AggregatedSchedule, error)
	Propose(ctx context.Context, req app.ProposeRequest) (*app.Proposal, error)
}

// Server provides the HTTP API: /health, /api/events, /api/suggest and
// /metrics.
type Server struct {
	cfg     *config.Config
	planner Planner
	mux     *http.ServeMux

	// Expanded schedules keyed by window, to avoid repeating
	// fetch/parse/expand work on every request.
	events *expirable.LRU[string, eventsResponse]
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, planner Planner) *Server {
	s := &Server{
		cfg:     cfg,
		planner: planner,
		mux:     http.NewServeMux(),
		events:  expirable.NewLRU[string, eventsResponse](eventsCacheSize, nil, eventsCacheTTL),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler with metrics and, when configured,
// basic auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return instrument(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calsuggest", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Start serves the API on cfg.Listen until ctx is cancelled, then shuts
// down gracefully. The schedule cache is warmed on cfg.RefreshCron.
func Start(ctx context.Context, cfg *config.Config, planner Planner) error {
	s := NewServer(cfg, planner)

	stopRefresh, err := s.StartRefresher(ctx, cfg.RefreshCron)
	if err != nil {
		return err
	}
	defer stopRefresh()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/suggest", s.handleSuggest)
	s.mux.Handle("/metrics", metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	Failures        []failureDTO    `json:"failures,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid,omitempty"`
	InstanceKey string    `json:"instance_key,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Recurring   bool      `json:"recurring"`
	Modified    bool      `json:"modified,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type failureDTO struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error"`
}

func toOccurrenceDTOs(occ []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		out = append(out, occurrenceDTO{
			SourceID:    o.SourceID,
			UID:         o.UID,
			InstanceKey: o.InstanceKey,
			Summary:     o.Summary,
			Description: o.Description,
			Location:    o.Location,
			AllDay:      o.AllDay,
			Recurring:   o.Recurring,
			Modified:    o.Modified,
			Start:       o.Start,
			End:         o.End,
		})
	}
	return out
}

func toEventsResponse(sched *model.AggregatedSchedule) eventsResponse {
	resp := eventsResponse{
		Occurrences:     toOccurrenceDTOs(sched.Occurrences),
		Warnings:        sched.Warnings,
		TruncatedUIDs:   sched.Truncated,
		RangeStart:      sched.Window.Start,
		RangeEnd:        sched.Window.End,
		DisplayTimeZone: sched.TimeZone,
	}
	for _, f := range sched.Failures {
		resp.Failures = append(resp.Failures, failureDTO{SourceID: f.SourceID, Error: f.Err.Error()})
	}
	return resp
}

// handleEvents returns the merged schedule of all configured calendars.
//
// GET /api/events?days=7&backfill=1
//   - days:     number of days ahead (default horizon_days)
//   - backfill: number of past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	resp, err := s.schedule(r.Context(), days, backfill)
	if err != nil {
		appLog.Error("api events failed", err, "days", days, "backfill", backfill)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// schedule returns the cached response for the window, building it on a miss.
func (s *Server) schedule(ctx context.Context, days, backfill int) (eventsResponse, error) {
	today := s.planner.DayWindow(time.Time{}, 1).Start
	key := fmt.Sprintf("%s/%d/%d", today.Format("2006-01-02"), days, backfill)
	if resp, ok := s.events.Get(key); ok {
		return resp, nil
	}

	window := s.planner.DayWindow(today.AddDate(0, 0, -backfill), days+backfill)
	appLog.Info("api events request",
		"days", days,
		"backfill", backfill,
		"range_start", window.Start.Format(time.RFC3339),
		"range_end", window.End.Format(time.RFC3339),
	)

	sched, err := s.planner.Schedule(ctx, window)
	if err != nil {
		return eventsResponse{}, err
	}
	resp := toEventsResponse(sched)
	s.events.Add(key, resp)
	return resp, nil
}

type suggestRequest struct {
	Request  string   `json:"request"`
	Title    string   `json:"title"`
	Start    string   `json:"start,omitempty"` // YYYY-MM-DD, default today
	Days     int      `json:"days,omitempty"`
	Feedback []string `json:"feedback,omitempty"`
}

type suggestionDTO struct {
	Summary     string    `json:"summary"`
	Explanation string    `json:"explanation,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"timezone"`
}

type suggestResponse struct {
	Suggestions []suggestionDTO `json:"suggestions"`
	Day         []occurrenceDTO `json:"day"`
	Failures    []failureDTO    `json:"failures,omitempty"`
}

// handleSuggest runs one suggestion round.
//
// POST /api/suggest {"request": "...", "title": "...", "days": 7, "feedback": [...]}
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req suggestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Request == "" {
		writeError(w, http.StatusBadRequest, "request is required")
		return
	}

	var start time.Time
	if req.Start != "" {
		t, err := time.ParseInLocation("2006-01-02", req.Start, s.planner.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		start = t
	}

	p, err := s.planner.Propose(r.Context(), app.ProposeRequest{
		Start:    start,
		Days:     req.Days,
		Request:  req.Request,
		Title:    req.Title,
		Feedback: req.Feedback,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, app.ErrNoSuggester) {
			status = http.StatusServiceUnavailable
		}
		appLog.Error("api suggest failed", err)
		writeError(w, status, err.Error())
		return
	}

	resp := suggestResponse{Day: toOccurrenceDTOs(p.Day)}
	for _, t := range p.Suggestions {
		resp.Suggestions = append(resp.Suggestions, suggestionDTO{
			Summary:     t.Summary,
			Explanation: t.Description,
			Start:       t.Start,
			End:         t.End,
			TimeZone:    t.TimeZone,
		})
	}
	for _, f := range p.Schedule.Failures {
		resp.Failures = append(resp.Failures, failureDTO{SourceID: f.SourceID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

var knownPaths = map[string]bool{
	"/health":      true,
	"/api/events":  true,
	"/api/suggest": true,
	"/metrics":     true,
}

// instrument records request counts and latencies. Unknown paths share one
// label so scanners cannot blow up cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if !knownPaths[path] {
			path = "other"
		}
		metrics.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
