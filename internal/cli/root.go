// Package cli implements the calsuggest command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"calsuggest/internal/config"
	appLog "calsuggest/internal/log"
)

// version will be set by main
var version = "dev"

// SetVersion sets the version reported by `calsuggest version`.
func SetVersion(v string) {
	version = v
}

// rootOptions holds the global flags and the config they resolve to.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "calsuggest",
		Short: "Merges your calendars and suggests free slots for new events",
		Long: `calsuggest reads ICS subscriptions, local ICS files and Google calendars,
expands recurring events into a single schedule and asks a language model
where a new event fits.

It can run as:
  - A CLI (events, suggest)
  - An HTTP API with Prometheus metrics (serve)`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return o.load()
		},
	}
	cmd.Version = version
	cmd.SetVersionTemplate(`{{printf "calsuggest version %s\n" .Version}}`)

	cmd.PersistentFlags().StringVar(&o.configPath, "config", config.DefaultPath(), "Path to config file")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log_level")

	cmd.AddCommand(newEventsCmd(o))
	cmd.AddCommand(newSuggestCmd(o))
	cmd.AddCommand(newServeCmd(o))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// load reads the config file and applies the global flags.
func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", o.configPath, err)
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	o.cfg = cfg

	appLog.Debug("effective config",
		"config_path", o.configPath,
		"timezone", cfg.Timezone,
		"horizon_days", cfg.HorizonDays,
		"on_source_error", cfg.OnSourceError,
		"calendars", len(cfg.Calendars),
		"google", cfg.Google.Enabled(),
	)
	return nil
}

// Execute runs the command line until ctx is cancelled and exits non-zero
// on error.
func Execute(ctx context.Context) {
	defer appLog.Sync()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "calsuggest version %s\n", version)
		},
	}
}
