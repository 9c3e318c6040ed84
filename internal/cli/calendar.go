package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"markethours/internal/reference"
)

// CalendarOptions holds flags for the calendar command.
type CalendarOptions struct {
	*RootOptions
	Start string
	Days  int
}

// NewCalendarCommand creates the calendar command.
func NewCalendarCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CalendarOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "List days where the oracle clock and the exchange calendar disagree",
		Long: `Fetch the exchange calendar from Alpaca and list the days on which the
oracle's fixed 14:30-21:00 UTC weekday window does not match the real session:
holidays, early closes and daylight saving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now().UTC()
			if opts.Start != "" {
				t, err := parseTime(opts.Start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				start = t
			}
			if opts.Days < 1 {
				return fmt.Errorf("--days must be positive")
			}
			end := start.AddDate(0, 0, opts.Days-1)

			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			sessions, err := opts.calendarSource().Sessions(ctx, start, end)
			if err != nil {
				return err
			}
			diffs := reference.CompareCalendar(sessions, start, end)

			out := opts.output(cmd)
			if opts.Format == "json" {
				return out.json(diffs)
			}
			if len(diffs) == 0 {
				fmt.Fprintln(out.w, "no differences")
				return nil
			}
			for _, d := range diffs {
				fmt.Fprintf(out.w, "%s %-9s  %-26s open %+v close %+v\n",
					d.Date, d.Weekday, d.Reason, d.OpenDelta, d.CloseDelta)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "first day, RFC3339 or YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&opts.Days, "days", 30, "number of days to compare")

	return cmd
}

func (o *RootOptions) calendarSource() reference.CalendarSource {
	if o.calendar != nil {
		return o.calendar
	}
	a := o.cfg.Alpaca
	return reference.NewAlpacaCalendar(a.APIKey, a.APISecret, a.BaseURL)
}
