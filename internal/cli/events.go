package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/lookalike/internal/config"
)

// eventRecord mirrors otel.Event for JSON decoding.
// We decode from JSONL rather than importing otel to keep this
// subcommand usable even if the event schema evolves.
type eventRecord struct {
	Time      time.Time      `json:"t"`
	Level     string         `json:"level"`
	Kind      string         `json:"kind"`
	Comp      string         `json:"comp"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run"`
	QueryID   string         `json:"qid"`
	DurMs     float64        `json:"dur_ms"`
	Count     int            `json:"count"`
	Total     int            `json:"total"`
	Chunk     int            `json:"chunk"`
	Stage     int            `json:"stage"`
	Err       string         `json:"err"`
	Msg       string         `json:"msg"`
	Extra     map[string]any `json:"extra"`
}

// eventFilter holds the events command's flags.
type eventFilter struct {
	tail    int
	follow  bool
	kind    string
	level   string
	comp    string
	qid     string
	run     string
	rawJSON bool
}

// levelRank returns a numeric rank for filtering (higher = more severe).
func levelRank(level string) int {
	switch level {
	case "debug":
		return 0
	case "info":
		return 1
	case "warn":
		return 2
	case "error":
		return 3
	default:
		return 0
	}
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	f := &eventFilter{}

	cmd := &cobra.Command{
		Use:         "events",
		Short:       "JSONL event log viewer",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noSession: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadConfig(opts.overrides.ConfigPath)
			if err != nil {
				return err
			}
			logPath := cfg.EventLogPath()

			file, err := os.Open(logPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "  Event log not found at %s\n", logPath)
				fmt.Fprintf(cmd.ErrOrStderr(), "  Run lookalike or lk first to generate events.\n")
				return err
			}
			defer file.Close()

			out := cmd.OutOrStdout()
			for _, l := range readTailLines(file, f.tail, f.match) {
				fmt.Fprintln(out, f.format(l.ev, l.raw))
			}
			if !f.follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return followEvents(ctx, file, out, f)
		},
	}

	cmd.Flags().IntVar(&f.tail, "tail", 50, "Number of recent lines to show")
	cmd.Flags().BoolVarP(&f.follow, "follow", "f", false, "Follow mode (like tail -f)")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Filter by event kind prefix (e.g. 'upload')")
	cmd.Flags().StringVar(&f.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.comp, "comp", "", "Filter by component name")
	cmd.Flags().StringVar(&f.qid, "qid", "", "Filter by query ID")
	cmd.Flags().StringVar(&f.run, "run", "", "Filter by upload run ID (prefix)")
	cmd.Flags().BoolVar(&f.rawJSON, "json", false, "Output raw JSON lines")
	return cmd
}

func (f *eventFilter) match(ev eventRecord) bool {
	if f.kind != "" && !strings.HasPrefix(ev.Kind, f.kind) {
		return false
	}
	if f.level != "" && levelRank(ev.Level) < levelRank(f.level) {
		return false
	}
	if f.comp != "" && ev.Comp != f.comp {
		return false
	}
	if f.qid != "" && ev.QueryID != f.qid {
		return false
	}
	if f.run != "" && (ev.RunID == "" || !strings.HasPrefix(ev.RunID, f.run)) {
		return false
	}
	return true
}

func (f *eventFilter) format(ev eventRecord, raw []byte) string {
	if f.rawJSON {
		return string(raw)
	}
	ts := ev.Time.Format("15:04:05.000")
	lvl := strings.ToUpper(ev.Level)
	if lvl == "" {
		lvl = "?"
	}

	parts := []string{fmt.Sprintf("%s %-5s [%-6s] %-16s", ts, lvl, ev.Comp, ev.Kind)}

	if ev.Msg != "" {
		parts = append(parts, ev.Msg)
	}
	if ev.Chunk > 0 {
		parts = append(parts, fmt.Sprintf("chunk=%d/%d", ev.Chunk, ev.Total))
	} else if ev.Total > 0 {
		parts = append(parts, fmt.Sprintf("total=%d", ev.Total))
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.RunID != "" {
		parts = append(parts, "run="+shortID(ev.RunID))
	}
	if ev.QueryID != "" {
		parts = append(parts, "qid="+shortID(ev.QueryID))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}

	return strings.Join(parts, " ")
}

// followEvents polls for lines appended after the current offset.
func followEvents(ctx context.Context, file *os.File, out io.Writer, f *eventFilter) error {
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		line = trimLine(line)
		if len(line) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		if f.match(ev) {
			fmt.Fprintln(out, f.format(ev, line))
		}
	}
}

type parsedLine struct {
	ev  eventRecord
	raw []byte
}

// readTailLines reads the file and returns the last n lines matching the filter.
func readTailLines(r io.Reader, n int, match func(eventRecord) bool) []parsedLine {
	scanner := bufio.NewScanner(r)
	// Allow large lines (some events may have big Extra maps)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	var ring []parsedLine
	if n > 0 {
		ring = make([]parsedLine, 0, n)
	}

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev eventRecord
		if json.Unmarshal(raw, &ev) != nil {
			continue
		}
		if !match(ev) {
			continue
		}
		if n <= 0 {
			continue
		}
		// Make a copy of raw since scanner reuses the buffer
		rawCopy := make([]byte, len(raw))
		copy(rawCopy, raw)

		if len(ring) < n {
			ring = append(ring, parsedLine{ev: ev, raw: rawCopy})
		} else {
			// Shift left
			copy(ring, ring[1:])
			ring[n-1] = parsedLine{ev: ev, raw: rawCopy}
		}
	}

	return ring
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func durPrecision(ms float64) int {
	if ms >= 100 {
		return 0
	}
	if ms >= 1 {
		return 1
	}
	return 2
}
