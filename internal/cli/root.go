// Package cli implements lk, the scriptable command-line client.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/abelbrown/lookalike/internal/app"
	"github.com/abelbrown/lookalike/internal/logging"
)

// noSession marks commands that run without opening a session.
const noSession = "no-session"

// rootOptions carries persistent flags and the session opened for a command.
type rootOptions struct {
	overrides app.Overrides
	session   *app.Session
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lk",
		Short:         "Visual similarity search client",
		Long:          "Command line interface to upload images to, and search, a visual similarity backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, skip := cmd.Annotations[noSession]; skip {
				return nil
			}
			s, err := app.Open("cli", opts.overrides)
			if err != nil {
				return err
			}
			opts.session = s
			// --log-level also mirrors logs to stderr
			if opts.overrides.LogLevel != "" {
				logging.Tee(cmd.ErrOrStderr(), opts.overrides.LogLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.overrides.ConfigPath, "config", "c", "",
		"Path to config file")
	rootCmd.PersistentFlags().StringVar(&opts.overrides.APIURL, "api", "",
		"Backend base URL, e.g. http://localhost:8000")
	rootCmd.PersistentFlags().StringVar(&opts.overrides.LogLevel, "log-level", "",
		"Log level; when set, logs are also written to stderr")

	rootCmd.AddCommand(newUploadCmd(opts))
	rootCmd.AddCommand(newSearchCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newStatsCmd(opts))
	rootCmd.AddCommand(newHealthCmd(opts))
	rootCmd.AddCommand(newRunsCmd(opts))
	rootCmd.AddCommand(newEventsCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))

	return rootCmd
}

// run executes one command line and closes the session it opened.
func run(args []string, stdout, stderr io.Writer) error {
	opts := &rootOptions{}
	rootCmd := newRootCmd(opts)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if opts.session != nil {
		opts.session.Close()
	}
	return err
}

// Execute runs lk with the process arguments.
func Execute() error {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

// exitError is returned by commands that have already reported their outcome
// and only need a non-zero exit status.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Silent reports that the command already printed its failure.
func (e exitError) Silent() bool { return true }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}
