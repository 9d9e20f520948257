package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"calsuggest/internal/app"
	"calsuggest/internal/model"
)

// planner is what the interactive loop needs from app.Service.
type planner interface {
	Location() *time.Location
	Propose(ctx context.Context, req app.ProposeRequest) (*app.Proposal, error)
	Accept(ctx context.Context, t model.EventTemplate) (string, error)
}

func newSuggestCmd(o *rootOptions) *cobra.Command {
	var (
		start   string
		days    int
		request string
		title   string
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Ask for a free slot and create the accepted event",
		Long: `Build the merged schedule, ask the language model where the requested
event fits and iterate on its suggestion. Accepted events go to
google.write_calendar_id, or to export_path when Google is not configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(cmd.Context(), o.cfg)
			if err != nil {
				return err
			}
			from, err := parseDate(start, svc.Location())
			if err != nil {
				return err
			}
			return runSuggest(cmd.Context(), svc, cmd.InOrStdin(), cmd.OutOrStdout(), app.ProposeRequest{
				Start:   from,
				Days:    days,
				Request: request,
				Title:   title,
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First day to consider (YYYY-MM-DD), default today")
	cmd.Flags().IntVar(&days, "days", 0, "Number of days to consider, default horizon_days")
	cmd.Flags().StringVar(&request, "request", "", "What to schedule, e.g. \"a dog walk for 1 hour tomorrow\" (prompted if empty)")
	cmd.Flags().StringVar(&title, "title", "", "Title of the new event (prompted if empty)")
	return cmd
}

// errInputClosed ends the loop when stdin runs out.
var errInputClosed = errors.New("input closed")

type prompter struct {
	sc  *bufio.Scanner
	out io.Writer
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}
		return "", errInputClosed
	}
	return strings.TrimSpace(p.sc.Text()), nil
}

func banner(w io.Writer, title string) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\n%s\n%s\n", rule, title, rule)
}

// runSuggest is the propose/feedback/accept loop.
func runSuggest(ctx context.Context, p planner, in io.Reader, out io.Writer, req app.ProposeRequest) error {
	pr := &prompter{sc: bufio.NewScanner(in), out: out}

	err := suggestLoop(ctx, p, pr, req)
	if errors.Is(err, errInputClosed) {
		fmt.Fprintln(out, "\nInput closed, nothing created.")
		return nil
	}
	return err
}

func suggestLoop(ctx context.Context, p planner, pr *prompter, req app.ProposeRequest) error {
	out := pr.out
	var err error
	for req.Request == "" {
		req.Request, err = pr.ask("What event would you like to schedule? (e.g. 'a dog walk for 1 hour tomorrow'): ")
		if err != nil {
			return err
		}
	}
	if req.Title == "" {
		if req.Title, err = pr.ask("What would you like to title this event? (e.g. 'Dog Walk'): "); err != nil {
			return err
		}
	}

	loc := p.Location()
	for {
		fmt.Fprintln(out, "\nGenerating schedule suggestion...")
		prop, err := p.Propose(ctx, req)
		if err != nil {
			return err
		}
		for _, f := range prop.Schedule.Failures {
			fmt.Fprintf(out, "! calendar %s skipped: %v\n", f.SourceID, f.Err)
		}
		s := prop.Suggestions[0]
		printSuggestion(out, s, loc, req.Feedback, prop.Day)

		done, err := choose(ctx, p, pr, s, &req)
		if err != nil || done {
			return err
		}
	}
}

const menu = `
Options:
  1. Accept this suggestion
  2. Request a different time
  3. Request a different duration
  4. Provide specific constraints
  5. Cancel event creation
Enter your choice (1-5): `

// choose reads menu choices until one is valid. It reports done after an
// accept or cancel; feedback choices extend req.Feedback.
func choose(ctx context.Context, p planner, pr *prompter, s model.EventTemplate, req *app.ProposeRequest) (bool, error) {
	out := pr.out
	for {
		c, err := pr.ask(menu)
		if err != nil {
			return false, err
		}
		switch c {
		case "1":
			id, err := p.Accept(ctx, s)
			if err != nil {
				return false, fmt.Errorf("failed to create event: %w", err)
			}
			banner(out, "EVENT CREATED")
			fmt.Fprintf(out, "%s, %s (%s)\n", s.Summary, s.Start.In(p.Location()).Format("Mon 2006-01-02 15:04"), id)
			return true, nil
		case "2", "3", "4":
			fb, err := askFeedback(pr, c)
			if err != nil {
				return false, err
			}
			req.Feedback = append(req.Feedback, fb)
			return false, nil
		case "5":
			banner(out, "EVENT CREATION CANCELLED")
			return true, nil
		default:
			fmt.Fprintln(out, "Invalid choice. Please try again.")
		}
	}
}

func askFeedback(pr *prompter, choice string) (string, error) {
	var label, prefix string
	switch choice {
	case "2":
		label = "What time would you prefer? (e.g. 'morning', 'evening', or a specific time): "
		prefix = "Requested different time: "
	case "3":
		label = "What duration would you prefer? (e.g. '30 minutes', '2 hours'): "
		prefix = "Requested different duration: "
	default:
		label = "What specific constraints do you have? (e.g. 'must be after 5pm', 'not on weekends'): "
		prefix = "Added constraints: "
	}
	v, err := pr.ask(label)
	if err != nil {
		return "", err
	}
	return prefix + v, nil
}

func printSuggestion(w io.Writer, s model.EventTemplate, loc *time.Location, feedback []string, day []model.Occurrence) {
	banner(w, "SUGGESTED EVENT")
	fmt.Fprintf(w, "Title: %s\n", s.Summary)
	fmt.Fprintf(w, "Start Time: %s\n", s.Start.In(loc).Format("Mon 2006-01-02 15:04"))
	fmt.Fprintf(w, "Duration: %s\n", formatDuration(s.Duration()))
	if s.Description != "" {
		fmt.Fprintf(w, "Explanation: %s\n", s.Description)
	}

	if len(feedback) > 0 {
		fmt.Fprintln(w, "\nFeedback so far:")
		for i, f := range feedback {
			fmt.Fprintf(w, "  %d. %s\n", i+1, f)
		}
	}

	fmt.Fprintf(w, "\nSchedule for %s:\n", s.Start.In(loc).Format("2006-01-02"))
	for _, o := range day {
		line := fmt.Sprintf("  %s - %s: %s", o.Start.In(loc).Format("15:04"), o.End.In(loc).Format("15:04"), o.Summary)
		if o.AllDay {
			line = "  all day: " + o.Summary
		}
		if o.SourceID == app.SuggestedSourceID {
			line += " (NEW)"
		}
		fmt.Fprintln(w, line)
	}
}
