package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/abelbrown/lookalike/internal/otel"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border (top + bottom = 2) and vertical padding (top + bottom = 2).
// Must be updated if DebugPanel style changes.
const debugPanelChrome = 4

// debugOverlay renders upload/search counters, the active run's timeline and
// the most recent events. Returns empty string if ring is nil.
func debugOverlay(ring *otel.RingBuffer, runID string, width, height int) string {
	if ring == nil {
		return ""
	}

	stats := ring.Stats()

	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Pipeline Stats"))
	lines = append(lines, fmt.Sprintf("  Uploads:    %d started, %d complete, %d failed, %d cancelled",
		stats[otel.KindUploadStart], stats[otel.KindUploadComplete], stats[otel.KindUploadError], stats[otel.KindUploadCancel]))
	lines = append(lines, fmt.Sprintf("  Chunks:     %d committed, %d stale messages",
		stats[otel.KindUploadChunk], stats[otel.KindUploadStale]+stats[otel.KindSearchStale]))
	lines = append(lines, fmt.Sprintf("  Searches:   %d started, %d complete, %d errors",
		stats[otel.KindSearchStart], stats[otel.KindSearchComplete], stats[otel.KindSearchError]))
	lines = append(lines, fmt.Sprintf("  API:        %d requests, %d errors",
		stats[otel.KindAPIRequest], stats[otel.KindAPIError]))
	lines = append(lines, fmt.Sprintf("  Buffer:     %d / %d events", ring.Len(), ring.Cap()))
	lines = append(lines, "")

	if run := ring.ForRun(runID); len(run) > 0 {
		lines = append(lines, DebugHeaderStyle.Render("Active Run "+shortID(runID)))
		for _, e := range lastN(run, 8) {
			lines = append(lines, eventLine(e))
		}
		lines = append(lines, "")
	}

	lines = append(lines, DebugHeaderStyle.Render("Recent Events"))
	for _, e := range ring.Last(20) {
		lines = append(lines, eventLine(e))
	}

	// Truncate to fit terminal height (subtract chrome added by DebugPanel border/padding)
	maxHeight := height - debugPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 84
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}

	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

func eventLine(e otel.Event) string {
	line := fmt.Sprintf("  %6s  %-16s", formatAge(time.Since(e.Time)), string(e.Kind))
	if e.Chunk > 0 {
		line += fmt.Sprintf("  chunk %d/%d", e.Chunk, e.Total)
	}
	if e.Msg != "" {
		line += "  " + truncateRunes(e.Msg, 36)
	}
	if e.Err != "" {
		line += "  ERR:" + truncateRunes(e.Err, 30)
	}
	if e.QueryID != "" {
		line += "  qid:" + shortID(e.QueryID)
	}
	return line
}

func lastN(events []otel.Event, n int) []otel.Event {
	if len(events) > n {
		return events[len(events)-n:]
	}
	return events
}

// formatAge formats a duration as a compact human string.
// Handles negative durations from clock skew by clamping to "0ms".
func formatAge(d time.Duration) string {
	if d < 0 {
		return "0ms"
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
}
