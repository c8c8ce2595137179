package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the backend, its database and its cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session
			ctx, cancel := context.WithTimeout(cmd.Context(), s.Config.API.Timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			h, err := s.Client.Health(ctx)
			if err != nil {
				fmt.Fprintf(out, "%s: unreachable (%v)\n", s.Client.BaseURL(), err)
				return exitError{code: 2}
			}

			fmt.Fprintf(out, "API:       %s\n", h.Status)
			fmt.Fprintf(out, "Database:  %s\n", h.Database)
			fmt.Fprintf(out, "Redis:     %s\n", h.Redis)
			if !h.OK() {
				return exitError{code: 1}
			}
			return nil
		},
	}
}
