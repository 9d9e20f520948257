package cli

import (
	"context"
	"fmt"

	"calsuggest/internal/app"
	"calsuggest/internal/config"
	"calsuggest/internal/gcal"
	"calsuggest/internal/ics"
	appLog "calsuggest/internal/log"
	"calsuggest/internal/suggest"
)

// buildService validates cfg and wires the configured backends. Google and
// the suggestion engine are optional; their absence surfaces as
// app.ErrNoGateway / app.ErrNoSuggester when an operation needs them.
func buildService(ctx context.Context, cfg *config.Config) (*app.Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var gateway app.Gateway
	if cfg.Google.Enabled() {
		c, err := gcal.New(ctx, cfg.Google)
		if err != nil {
			return nil, err
		}
		gateway = c
	}

	var suggester app.Suggester
	if cfg.LLM.APIKey != "" {
		e, err := suggest.NewEngine(cfg.LLM)
		if err != nil {
			return nil, err
		}
		suggester = e
	} else {
		appLog.Debug("no llm.api_key, suggestions disabled")
	}

	return app.New(cfg, ics.NewFetcher(cfg.CacheDir, nil), gateway, suggester)
}
