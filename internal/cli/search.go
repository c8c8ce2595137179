package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/lookalike/internal/intake"
	"github.com/abelbrown/lookalike/internal/search"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <image>",
		Short: "Find stored images similar to a JPG/PNG query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session
			if !cmd.Flags().Changed("top-k") {
				topK = s.Config.Search.DefaultTopK
			}
			if !validTopK(topK) {
				return fmt.Errorf("--top-k must be one of %v", search.TopKOptions)
			}

			files, errs := intake.FromPaths(args, intake.PathOptions{})
			if len(errs) > 0 {
				return errs[0]
			}
			if len(files) != 1 {
				return fmt.Errorf("%s: expected a single image file", args[0])
			}
			query := files[0]
			if !intake.Allowed(query.MIMEType) {
				return fmt.Errorf("%s: query must be a JPG or PNG image", query.Name)
			}

			m := search.New(s.Client, s.SearchOptions())
			m, _ = m.Update(search.SetQueryMsg{File: query})
			m, _ = m.Update(search.SetTopKMsg{TopK: topK})
			m, run := m.Update(search.SearchMsg{})
			m, rec := m.Update(run())
			if rec != nil {
				m, _ = m.Update(rec())
			}

			if err := m.Err(); err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, m.Results())
			}

			fmt.Fprintln(out, m.Summary())
			if len(m.Results()) == 0 {
				return nil
			}
			rows := make([][]string, len(m.Results()))
			for i, r := range m.Results() {
				rows[i] = []string{
					fmt.Sprint(i + 1),
					truncate(r.Filename, 40),
					search.Percent(r.Similarity),
					fmt.Sprintf("%.4f", r.Score),
					r.URL,
				}
			}
			printTable(out, []string{"#", "File", "Similarity", "Distance", "URL"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", search.DefaultTopK, "Number of matches (5, 10, 20, 30, 40 or 50)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func validTopK(k int) bool {
	for _, v := range search.TopKOptions {
		if v == k {
			return true
		}
	}
	return false
}
