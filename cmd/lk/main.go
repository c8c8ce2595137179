package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/abelbrown/lookalike/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		var silent interface{ Silent() bool }
		if !errors.As(err, &silent) || !silent.Silent() {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.ExitCode(err))
	}
}
