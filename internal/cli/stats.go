package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/lookalike/internal/coord"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard statistics, backend health and local totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session
			ctx, cancel := context.WithTimeout(cmd.Context(), s.Config.API.Timeout)
			defer cancel()

			d := coord.NewCoordinator(s.Client, s.Journal).Dashboard(ctx)
			out := cmd.OutOrStdout()

			if d.Err != nil {
				fmt.Fprintf(out, "Stats:            unavailable (%v)\n", d.Err)
			} else {
				fmt.Fprintf(out, "Total images:     %d\n", d.Stats.TotalImages)
				fmt.Fprintf(out, "Total searches:   %d\n", d.Stats.TotalSearches)
				fmt.Fprintf(out, "System status:    %s\n", d.Stats.SystemStatus)
			}

			if d.HealthErr != nil {
				fmt.Fprintf(out, "Health:           unreachable (%v)\n", d.HealthErr)
			} else {
				fmt.Fprintf(out, "Health:           api=%s database=%s redis=%s\n",
					d.Health.Status, d.Health.Database, d.Health.Redis)
			}

			if d.Totals != nil {
				fmt.Fprintf(out, "\nLocal runs:       %d (%d failed)\n", d.Totals.Runs, d.Totals.FailedRuns)
				fmt.Fprintf(out, "Files committed:  %d\n", d.Totals.FilesCommitted)
				fmt.Fprintf(out, "Local searches:   %d\n", d.Totals.Searches)
			}

			if d.Err == nil && len(d.Stats.RecentActivity) > 0 {
				rows := make([][]string, len(d.Stats.RecentActivity))
				for i, a := range d.Stats.RecentActivity {
					rows[i] = []string{a.Time, a.Action, truncate(a.Details, 50)}
				}
				fmt.Fprintln(out, "\nRecent activity:")
				printTable(out, []string{"Time", "Action", "Details"}, rows)
			}

			if d.Err != nil && d.HealthErr != nil {
				return exitError{code: 1}
			}
			return nil
		},
	}
	return cmd
}
