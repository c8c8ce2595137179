// Command lookalike is the terminal UI for a visual-similarity search backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/lookalike/internal/app"
	"github.com/abelbrown/lookalike/internal/coord"
	"github.com/abelbrown/lookalike/internal/logging"
	"github.com/abelbrown/lookalike/internal/otel"
	"github.com/abelbrown/lookalike/internal/search"
	"github.com/abelbrown/lookalike/internal/ui"
	"github.com/abelbrown/lookalike/internal/upload"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	apiURL := flag.String("api", "", "Backend base URL (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	trace := flag.Bool("trace", false, "Record every key press in the event log")
	flag.Parse()

	if *trace {
		otel.SetTraceEnabled(true)
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := app.Open("ui", app.Overrides{ConfigPath: *configPath, APIURL: *apiURL, LogLevel: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "lookalike: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	coordinator := coord.NewCoordinator(s.Client, s.Journal)

	// Create UI app with dependency injection
	model := ui.NewApp(
		upload.New(s.Client, s.UploadOptions()),
		search.New(s.Client, s.SearchOptions()),
		ui.Deps{
			LoadHistory:   coordinator.LoadHistory,
			LoadDashboard: coordinator.LoadDashboard,
			Resolve:       s.Resolve,
			Ring:          s.Ring,
			Events:        s.Events,
		},
	)

	var opts []tea.ProgramOption
	if s.Config.UI.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(model, opts...)

	// Keep the dashboard fresh while the UI runs
	coordinator.Start(ctx, program)

	// Run UI (blocks until quit)
	if _, err := program.Run(); err != nil {
		logging.Error("Error running program", "error", err)
		fmt.Fprintf(os.Stderr, "lookalike: %v\n", err)
	}

	// Graceful shutdown
	cancel()
	coordinator.Wait()
}
