package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/lookalike/internal/intake"
	"github.com/abelbrown/lookalike/internal/search"
	"github.com/abelbrown/lookalike/internal/upload"
)

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	header := a.renderTabs()

	var body string
	if a.showDebug {
		body = debugOverlay(a.deps.Ring, a.upload.RunID(), a.width, a.height-2)
	} else {
		switch a.tab {
		case TabUpload:
			body = a.renderUpload()
		case TabSearch:
			body = a.renderSearch()
		case TabHistory:
			body = a.renderHistory()
		case TabDashboard:
			body = a.renderDashboard()
		}
	}

	var footer []string
	if a.mode != inputNone {
		footer = append(footer, InputBar.Width(a.width).Render(a.input.View()))
	}
	if a.err != nil {
		footer = append(footer, ErrorStyle.Width(a.width).Render("Error: "+a.err.Error()+" (press any key to dismiss)"))
	}
	footer = append(footer, a.renderStatusBar())

	// Pad the body so the status bar stays on the last line.
	used := lipgloss.Height(header) + lipgloss.Height(body) + len(footer)
	if gap := a.height - used; gap > 0 {
		body += strings.Repeat("\n", gap)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, strings.Join(footer, "\n"))
}

func (a App) renderTabs() string {
	labels := make([]string, len(tabNames))
	for i, name := range tabNames {
		label := fmt.Sprintf("%d %s", i+1, name)
		if Tab(i) == a.tab {
			labels[i] = ActiveTab.Render(label)
		} else {
			labels[i] = InactiveTab.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, labels...)
}

func (a App) renderUpload() string {
	m := a.upload
	var b strings.Builder

	b.WriteString(SectionHeader.Render("Upload Images"))
	b.WriteString("\n")

	files := m.Files()
	if len(files) == 0 {
		b.WriteString(MutedText.Render("  No files selected. Press a to add JPG or PNG files or folders."))
		b.WriteString("\n")
	} else {
		b.WriteString(fmt.Sprintf("  %d files selected (%s)\n", len(files), humanKB(m.TotalSize())))
		for _, line := range a.fileWindow(files) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	if m.Status() != upload.StatusIdle {
		b.WriteString(renderPipeline(m.Stage()))
		b.WriteString("\n\n")
		b.WriteString("  " + a.bar.ViewAs(m.Progress().Ratio()))
		b.WriteString("\n")
		status := m.StatusText()
		if m.Status() == upload.StatusUploading {
			status = a.spinner.View() + " " + status
			if m.ChunkTotal() > 1 {
				status += MutedText.Render(fmt.Sprintf("  (%d batches of up to %d)", m.ChunkTotal(), upload.ChunkSize))
			}
		} else {
			status = SuccessStyle.Render("✓ " + status)
		}
		b.WriteString("  " + status + "\n")
	}

	if n := m.Notice(); n != "" {
		b.WriteString(NoticeStyle.Render("⚠ " + n))
		b.WriteString("\n")
	}
	return b.String()
}

// fileWindow renders the visible slice of the file list around the cursor.
func (a App) fileWindow(files []intake.CandidateFile) []string {
	visible := a.height - 16
	if visible < 3 {
		visible = 3
	}
	start := 0
	if a.cursor >= visible {
		start = a.cursor - visible + 1
	}
	end := start + visible
	if end > len(files) {
		end = len(files)
	}

	var out []string
	for i := start; i < end; i++ {
		f := files[i]
		line := fmt.Sprintf("%-40s %8s", truncateRunes(f.Name, 40), humanKB(f.Size))
		if i == a.cursor {
			out = append(out, SelectedItem.Render(line))
		} else {
			out = append(out, NormalItem.Render(line))
		}
	}
	if end < len(files) {
		out = append(out, MutedText.Render(fmt.Sprintf("  … %d more", len(files)-end)))
	}
	return out
}

func renderPipeline(current upload.Stage) string {
	parts := make([]string, len(upload.Steps))
	for i, step := range upload.Steps {
		switch upload.StepStatus(current, step) {
		case upload.StepCompleted:
			parts[i] = StepCompletedStyle.Render("✓ " + step.Label())
		case upload.StepActive:
			parts[i] = StepActiveStyle.Render("● " + step.Label())
		default:
			parts[i] = StepWaitingStyle.Render("○ " + step.Label())
		}
	}
	return "  " + strings.Join(parts, MutedText.Render("  →  "))
}

func (a App) renderSearch() string {
	m := a.search
	var b strings.Builder

	b.WriteString(SectionHeader.Render("Visual Search"))
	b.WriteString("\n")

	q, ok := m.Query()
	if !ok {
		b.WriteString(MutedText.Render("  No query image. Press / to choose one."))
	} else {
		b.WriteString(fmt.Sprintf("  Query: %s (%s)", q.Name, humanKB(q.Size)))
	}
	b.WriteString(fmt.Sprintf("   top_k: %d\n\n", m.TopK()))

	switch {
	case m.Searching():
		b.WriteString("  " + a.spinner.View() + " Searching...\n")
	case m.Err() != nil:
		b.WriteString(NoticeStyle.Render("⚠ Search failed: " + m.Err().Error()))
		b.WriteString("\n")
	case m.Done():
		b.WriteString("  " + SuccessStyle.Render(m.Summary()) + "\n\n")
		for i, r := range m.Results() {
			b.WriteString(renderResult(i, r))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderResult(i int, r search.DisplayResult) string {
	return fmt.Sprintf("  %2d. %-36s %5s  %s", i+1, truncateRunes(r.Filename, 36),
		search.Percent(r.Similarity), MutedText.Render(r.URL))
}

func (a App) renderHistory() string {
	titles := []string{"Uploads", "Searches", "Local runs"}
	parts := make([]string, len(titles))
	for i, t := range titles {
		if historyView(i) == a.historyKind {
			parts[i] = ActiveTab.Render(t)
		} else {
			parts[i] = InactiveTab.Render(t)
		}
	}
	head := lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	if a.loading {
		return head + "\n  " + a.spinner.View() + " Loading..."
	}
	return head + "\n" + a.history.View()
}

func (a App) renderDashboard() string {
	var b strings.Builder
	b.WriteString(SectionHeader.Render("Dashboard"))
	b.WriteString("\n")

	if a.stats == nil {
		if a.loading {
			b.WriteString("  " + a.spinner.View() + " Loading...\n")
		} else {
			b.WriteString(MutedText.Render("  No stats loaded. Press r to refresh.") + "\n")
		}
	} else {
		cards := []string{
			StatCard.Render(fmt.Sprintf("Images\n%d", a.stats.TotalImages)),
			StatCard.Render(fmt.Sprintf("Searches\n%d", a.stats.TotalSearches)),
			StatCard.Render(fmt.Sprintf("Status\n%s", a.stats.SystemStatus)),
		}
		if a.totals != nil {
			cards = append(cards, StatCard.Render(fmt.Sprintf("Local runs\n%d (%d failed)", a.totals.Runs, a.totals.FailedRuns)))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
		b.WriteString("\n\n")

		b.WriteString(DebugHeaderStyle.Render("  Recent Activity"))
		b.WriteString("\n")
		if len(a.stats.RecentActivity) == 0 {
			b.WriteString(MutedText.Render("  No activity yet") + "\n")
		}
		for _, act := range a.stats.RecentActivity {
			b.WriteString(fmt.Sprintf("  %-16s  %-16s  %s\n", act.Time, act.Action, truncateRunes(act.Details, 40)))
		}
	}

	b.WriteString("\n")
	b.WriteString(DebugHeaderStyle.Render("  System Health"))
	b.WriteString("\n")
	switch {
	case a.healthErr != nil:
		b.WriteString(ErrorStyle.Render("unreachable: "+a.healthErr.Error()) + "\n")
	case a.health != nil:
		b.WriteString("  " + healthLine("API", a.health.Status == "running", a.health.Status) + "\n")
		b.WriteString("  " + healthLine("Database", a.health.Database == "OK", a.health.Database) + "\n")
		b.WriteString("  " + healthLine("Redis", a.health.Redis == "OK", a.health.Redis) + "\n")
	default:
		b.WriteString(MutedText.Render("  unknown") + "\n")
	}
	return b.String()
}

func healthLine(name string, ok bool, value string) string {
	if ok {
		return fmt.Sprintf("%-10s %s", name, SuccessStyle.Render(value))
	}
	return fmt.Sprintf("%-10s %s", name, ErrorStyle.Render(value))
}

// renderStatusBar renders key hints for the active tab.
func (a App) renderStatusBar() string {
	var keys []string
	hint := func(k, d string) {
		keys = append(keys, StatusBarKey.Render(k)+StatusBarText.Render(":"+d))
	}

	if a.mode != inputNone {
		hint("Enter", "add")
		hint("Esc", "cancel")
	} else {
		switch a.tab {
		case TabUpload:
			if a.upload.Status() == upload.StatusUploading {
				hint("Esc", "cancel upload")
			} else {
				hint("a", "add")
				hint("x", "remove")
				hint("c", "clear")
				hint("u", "upload")
			}
		case TabSearch:
			hint("/", "query")
			hint("t", "top_k")
			hint("Enter", "search")
		case TabHistory:
			hint("s", "switch")
			hint("r", "refresh")
		case TabDashboard:
			hint("r", "refresh")
		}
		hint("Tab", "next")
		hint("^D", "debug")
		hint("q", "quit")
	}

	left := " " + a.tab.String() + " "
	right := strings.Join(keys, " ")
	padding := a.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 0 {
		padding = 0
	}
	return StatusBar.Width(a.width).Render(left + strings.Repeat(" ", padding) + right)
}

// humanKB renders a byte count in whole kilobytes, e.g. "123 KB".
func humanKB(n int64) string {
	return fmt.Sprintf("%.0f KB", float64(n)/1024)
}

// truncateRunes shortens s to at most n runes, marking the cut with "…".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
