package cli

import (
	"github.com/spf13/cobra"

	appLog "calsuggest/internal/log"
	"calsuggest/internal/web"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the schedule and suggestion HTTP API",
		Long: `Start the HTTP API:
  GET  /health       liveness
  GET  /api/events   merged schedule (?days=7&backfill=1)
  POST /api/suggest  one suggestion round
  GET  /metrics      Prometheus metrics

The schedule cache is refreshed on the "refresh" cron schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.cfg
			// --listen overrides config file listen if provided.
			if listen != "" {
				cfg.Listen = listen
			}
			svc, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			appLog.Info("effective config",
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"refresh", cfg.RefreshCron,
				"horizon_days", cfg.HorizonDays,
				"calendars", len(cfg.Calendars),
				"basic_auth", cfg.BasicAuth != nil,
			)
			return web.Start(cmd.Context(), cfg, svc)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
