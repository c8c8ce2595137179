package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/lookalike/internal/search"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:       "history [uploads|searches]",
		Short:     "Show the backend's upload or search history",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"uploads", "searches"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "uploads"
			if len(args) == 1 {
				kind = args[0]
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.session.Config.API.Timeout)
			defer cancel()
			client := opts.session.Client
			out := cmd.OutOrStdout()

			if kind == "uploads" {
				entries, err := client.UploadHistory(ctx, limit)
				if err != nil {
					return fmt.Errorf("failed to load upload history: %w", err)
				}
				if asJSON {
					return printJSON(out, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "No uploads found")
					return nil
				}
				rows := make([][]string, len(entries))
				for i, e := range entries {
					rows[i] = []string{fmt.Sprint(e.ID), e.Time, truncate(e.Filename, 48), e.Status}
				}
				printTable(out, []string{"ID", "Time", "File", "Status"}, rows)
				return nil
			}

			entries, err := client.SearchHistory(ctx)
			if err != nil {
				return fmt.Errorf("failed to load search history: %w", err)
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if asJSON {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No searches found")
				return nil
			}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				best := "-"
				if len(e.Results) > 0 {
					best = search.Percent(search.Similarity(e.Results[0].Score))
				}
				rows[i] = []string{fmt.Sprint(e.ID), e.CreatedAt, truncate(e.QueryImageFilename, 40),
					fmt.Sprint(len(e.Results)), best}
			}
			printTable(out, []string{"ID", "Time", "Query", "Matches", "Best"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}
