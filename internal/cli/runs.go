package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/lookalike/internal/journal"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var searches bool

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show upload runs and searches recorded by this machine",
		Long: `Show the local journal of upload runs. With a run ID (or a unique
prefix of one) the committed batches of that run are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j := opts.session.Journal
			if j == nil {
				return errors.New("journal unavailable; see the log for details")
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				return showRun(out, j, args[0])
			}
			if searches {
				return listSearches(out, j, limit)
			}

			runs, err := j.Runs(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{shortID(r.ID), r.StartedAt.Local().Format(time.DateTime),
					fmt.Sprintf("%d/%d", r.Committed, r.Total), fmt.Sprint(r.Chunks), outcomeOf(r), truncate(r.Err, 40)}
			}
			printTable(out, []string{"Run", "Started", "Files", "Batches", "Outcome", "Error"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&searches, "searches", false, "List local searches instead of runs")
	return cmd
}

func showRun(out io.Writer, j *journal.Journal, id string) error {
	full, err := resolveRunID(j, id)
	if err != nil {
		return err
	}
	r, chunks, err := j.Run(full)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run:        %s\n", r.ID)
	fmt.Fprintf(out, "Started:    %s\n", r.StartedAt.Local().Format(time.DateTime))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(out, "Finished:   %s (%s)\n", r.FinishedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(out, "Outcome:    %s\n", outcomeOf(r))
	fmt.Fprintf(out, "Committed:  %d of %d files in %d of %d batches\n", r.Committed, r.Total, len(chunks), r.Chunks)
	if r.Err != "" {
		fmt.Fprintf(out, "Error:      %s\n", r.Err)
	}
	if len(chunks) > 0 {
		rows := make([][]string, len(chunks))
		for i, c := range chunks {
			rows[i] = []string{fmt.Sprint(c.Index + 1), fmt.Sprint(c.Size), c.CommittedAt.Local().Format("15:04:05.000")}
		}
		printTable(out, []string{"Batch", "Files", "Committed"}, rows)
	}
	return nil
}

// resolveRunID expands a unique prefix to a full run ID.
func resolveRunID(j *journal.Journal, prefix string) (string, error) {
	runs, err := j.Runs(0)
	if err != nil {
		return "", err
	}
	var match string
	for _, r := range runs {
		if r.ID == prefix {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("run prefix %q is ambiguous", prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no run matches %q", prefix)
	}
	return match, nil
}

func listSearches(out io.Writer, j *journal.Journal, limit int) error {
	list, err := j.Searches(limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No searches recorded")
		return nil
	}
	rows := make([][]string, len(list))
	for i, s := range list {
		status := fmt.Sprint(s.Results)
		if s.Err != "" {
			status = "error: " + truncate(s.Err, 30)
		}
		rows[i] = []string{shortID(s.ID), s.CreatedAt.Local().Format(time.DateTime), truncate(s.Filename, 32),
			fmt.Sprint(s.TopK), status, fmt.Sprintf("%dms", s.ElapsedMs)}
	}
	printTable(out, []string{"Query", "Time", "File", "top_k", "Matches", "Elapsed"}, rows)
	return nil
}

func outcomeOf(r journal.Run) string {
	if r.Outcome == "" {
		return "unfinished"
	}
	return r.Outcome
}
