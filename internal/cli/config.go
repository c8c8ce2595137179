package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abelbrown/lookalike/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Show or create the configuration file",
		Annotations: map[string]string{noSession: ""},
	}

	cmd.AddCommand(&cobra.Command{
		Use:         "show",
		Short:       "Print the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noSession: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadConfig(opts.overrides.ConfigPath)
			if err != nil {
				return err
			}
			if opts.overrides.APIURL != "" {
				cfg.API.BaseURL = opts.overrides.APIURL
			}
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", path, data)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write a default configuration file",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{noSession: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(".", "lookalike.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.GenerateDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}
