package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"calsuggest/internal/model"
)

func newEventsCmd(o *rootOptions) *cobra.Command {
	var (
		start   string
		days    int
		tz      string
		details bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the merged schedule of all configured calendars",
		Long: `Fetch every configured calendar, expand recurring events and print the
merged schedule in the display timezone. Calendars that fail are reported
and skipped unless on_source_error is "fail".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.cfg
			if tz != "" {
				cfg.Timezone = tz
			}
			svc, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			from, err := parseDate(start, svc.Location())
			if err != nil {
				return err
			}
			sched, err := svc.Schedule(cmd.Context(), svc.DayWindow(from, days))
			if err != nil {
				return err
			}

			names := make(map[string]string, len(cfg.Calendars))
			for _, c := range cfg.Calendars {
				names[c.ID] = c.Name
			}
			printSchedule(cmd.OutOrStdout(), sched, names, details)
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First day (YYYY-MM-DD), default today")
	cmd.Flags().IntVar(&days, "days", 0, "Number of days, default horizon_days")
	cmd.Flags().StringVar(&tz, "tz", "", "Display timezone (e.g. Europe/Athens), default timezone from config")
	cmd.Flags().BoolVar(&details, "details", false, "Show duration and exact start/end")
	return cmd
}

// parseDate parses YYYY-MM-DD in loc. Empty means zero (today).
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func printSchedule(w io.Writer, sched *model.AggregatedSchedule, names map[string]string, details bool) {
	rule := strings.Repeat("-", 80)

	fmt.Fprintf(w, "Date range: %s to %s\n",
		sched.Window.Start.Format("2006-01-02"),
		sched.Window.End.AddDate(0, 0, -1).Format("2006-01-02"))
	fmt.Fprintf(w, "Timezone: %s\n\n", sched.TimeZone)

	for _, f := range sched.Failures {
		fmt.Fprintf(w, "! %s: %v\n", calendarName(names, f.SourceID), f.Err)
	}
	for _, warn := range sched.Warnings {
		fmt.Fprintf(w, "! %s\n", warn)
	}
	if len(sched.Failures)+len(sched.Warnings) > 0 {
		fmt.Fprintln(w)
	}

	if len(sched.Occurrences) == 0 {
		fmt.Fprintln(w, "No events found in the specified time period.")
		return
	}

	fmt.Fprintf(w, "Found %d events:\n", len(sched.Occurrences))
	fmt.Fprintln(w, rule)
	for i, o := range sched.Occurrences {
		fmt.Fprintf(w, "%d. [%s] %s\n", i+1, calendarName(names, o.SourceID), o.Summary)
		fmt.Fprintf(w, "   %s\n", formatWhen(o, sched.TimeZone))
		if details {
			fmt.Fprintf(w, "   Duration: %s\n", formatDuration(o.Duration()))
			fmt.Fprintf(w, "   Start: %s\n", o.Start.Format(time.RFC3339))
			fmt.Fprintf(w, "   End: %s\n", o.End.Format(time.RFC3339))
		}
		fmt.Fprintln(w)
	}
}

func calendarName(names map[string]string, id string) string {
	if n := names[id]; n != "" {
		return n
	}
	return id
}

func formatWhen(o model.Occurrence, tz string) string {
	if o.AllDay {
		return fmt.Sprintf("%s (all day)", o.Start.Format("Monday, 2006-01-02"))
	}
	return fmt.Sprintf("%s from %s to %s (%s time)",
		o.Start.Format("Monday, 2006-01-02"), o.Start.Format("15:04"), o.End.Format("15:04"), tz)
}

func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}
