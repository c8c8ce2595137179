// Package app wires configuration, logging, the event log, the journal and
// the API client into one Session shared by the TUI and the CLI.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/config"
	"github.com/abelbrown/lookalike/internal/intake"
	"github.com/abelbrown/lookalike/internal/journal"
	"github.com/abelbrown/lookalike/internal/logging"
	"github.com/abelbrown/lookalike/internal/otel"
	"github.com/abelbrown/lookalike/internal/search"
	"github.com/abelbrown/lookalike/internal/upload"
)

// Overrides are command-line values that win over the config file and env.
type Overrides struct {
	ConfigPath string
	APIURL     string
	LogLevel   string
}

// Session holds the long-lived collaborators of one process.
type Session struct {
	Config     *config.Config
	ConfigPath string // file the config came from, or a note that defaults were used
	Client     *api.Client
	Journal    *journal.Journal // nil if the journal could not be opened
	Events     *otel.Logger
	Ring       *otel.RingBuffer
}

// Open loads configuration and opens every collaborator. Only configuration
// and data-directory errors are fatal; a broken event log or journal is
// logged and the session continues without it.
func Open(comp string, o Overrides) (*Session, error) {
	cfg, path, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.APIURL != "" {
		cfg.API.BaseURL = o.APIURL
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := logging.Init(cfg.DataDir, cfg.Logging.Level); err != nil {
		return nil, err
	}

	s := &Session{Config: cfg, ConfigPath: path, Ring: otel.NewRingBuffer(otel.DefaultRingSize)}

	s.Events, err = otel.OpenFile(cfg.EventLogPath())
	if err != nil {
		logging.Warn("Event log unavailable", "path", cfg.EventLogPath(), "error", err)
		s.Events = otel.NewNullLogger()
	}
	s.Events.SetRingBuffer(s.Ring)

	s.Journal, err = journal.Open(cfg.JournalPath())
	if err != nil {
		logging.Warn("Journal unavailable", "path", cfg.JournalPath(), "error", err)
		s.Journal = nil
	}

	s.Client = api.New(cfg.API.BaseURL, api.Options{
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Events:            s.Events,
	})

	logging.Info("Session started", "comp", comp, "api", cfg.API.BaseURL, "config", path, "data", cfg.DataDir)
	s.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindStartup, Comp: comp,
		Msg: cfg.API.BaseURL})
	return s, nil
}

// UploadOptions returns upload model options from the config.
func (s *Session) UploadOptions() upload.Options {
	opts := upload.Options{
		ChunkSize:   s.Config.Upload.ChunkSize,
		StageReveal: s.Config.Upload.StageRevealDelay,
		Settle:      s.Config.Upload.SettleDelay,
		Events:      s.Events,
	}
	// A nil *journal.Journal must not become a non-nil Recorder.
	if s.Journal != nil {
		opts.Recorder = s.Journal
	}
	return opts
}

// SearchOptions returns search model options from the config.
func (s *Session) SearchOptions() search.Options {
	opts := search.Options{
		TopK:   s.Config.Search.DefaultTopK,
		Events: s.Events,
	}
	if s.Journal != nil {
		opts.Recorder = s.Journal
	}
	return opts
}

// Resolve expands paths into candidate files using the configured recursion.
func (s *Session) Resolve(paths []string) ([]intake.CandidateFile, []error) {
	return intake.FromPaths(paths, intake.PathOptions{Recursive: s.Config.Upload.Recursive})
}

// Close flushes and closes everything Open created.
func (s *Session) Close() {
	s.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindShutdown, Comp: "main"})
	if s.Journal != nil {
		if err := s.Journal.Close(); err != nil {
			logging.Warn("Journal close failed", "error", err)
		}
	}
	s.Events.Close()
	logging.Close()
}
