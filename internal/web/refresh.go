package web

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "calsuggest/internal/log"
)

// StartRefresher rebuilds the default /api/events window on expr (a
// standard 5-field cron expression) so requests are served from cache.
// An empty expr disables refreshing. The returned func stops the scheduler.
func (s *Server) StartRefresher(ctx context.Context, expr string) (func(), error) {
	if expr == "" {
		return func() {}, nil
	}

	c := cron.New(cron.WithLocation(s.planner.Location()))
	_, err := c.AddFunc(expr, func() { s.refresh(ctx) })
	if err != nil {
		return nil, fmt.Errorf("web: invalid refresh schedule %q: %w", expr, err)
	}
	c.Start()
	appLog.Info("schedule refresher started", "refresh", expr)

	// Warm the cache once so the first request does not pay for it.
	go s.refresh(ctx)

	return func() { <-c.Stop().Done() }, nil
}

func (s *Server) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// Drop stale entries so the rebuild is not served from cache.
	s.events.Purge()
	if _, err := s.schedule(ctx, s.cfg.HorizonDays, 1); err != nil {
		appLog.Warn("schedule refresh failed", "error", err.Error())
	}
}
