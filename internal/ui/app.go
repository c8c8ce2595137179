package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/intake"
	"github.com/abelbrown/lookalike/internal/journal"
	"github.com/abelbrown/lookalike/internal/logging"
	"github.com/abelbrown/lookalike/internal/otel"
	"github.com/abelbrown/lookalike/internal/search"
	"github.com/abelbrown/lookalike/internal/upload"
)

// Tab identifies a top-level screen.
type Tab int

const (
	TabUpload Tab = iota
	TabSearch
	TabHistory
	TabDashboard
)

var tabNames = []string{"Upload", "Search", "History", "Dashboard"}

func (t Tab) String() string {
	if int(t) < len(tabNames) {
		return tabNames[t]
	}
	return "?"
}

type inputMode int

const (
	inputNone inputMode = iota
	inputAddFiles
	inputQuery
)

// historyView selects which list the history tab shows.
type historyView int

const (
	historyUploads historyView = iota
	historySearches
	historyRuns
)

// Deps are the side-effecting collaborators the App calls through.
// Any may be nil.
type Deps struct {
	LoadHistory   func() tea.Cmd
	LoadDashboard func() tea.Cmd
	Resolve       func(paths []string) ([]intake.CandidateFile, []error)
	Ring          *otel.RingBuffer
	Events        *otel.Logger
}

// App is the root Bubble Tea model.
// IMPORTANT: Update never does I/O. Network calls and journal writes happen
// in commands, either supplied through Deps or returned by the sub-models.
type App struct {
	deps Deps

	upload upload.Model
	search search.Model

	tab     Tab
	mode    inputMode
	input   textinput.Model
	cursor  int
	spinner spinner.Model
	bar     progress.Model

	history     table.Model
	historyKind historyView
	uploads     []api.UploadHistoryEntry
	searches    []api.SearchHistoryEntry
	runs        []journal.Run

	stats     *api.DashboardStats
	health    *api.Health
	healthErr error
	totals    *journal.Totals

	loading   bool
	showDebug bool
	err       error
	width     int
	height    int
	ready     bool
}

// NewApp creates an App around the upload and search models.
func NewApp(up upload.Model, sm search.Model, deps Deps) App {
	ti := textinput.New()
	ti.CharLimit = 4096
	ti.Width = 60

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorHighlight)

	bar := progress.New(progress.WithDefaultGradient())

	t := table.New(table.WithFocused(true), table.WithHeight(10))

	a := App{
		deps:    deps,
		upload:  up,
		search:  sm,
		input:   ti,
		spinner: s,
		bar:     bar,
		history: t,
	}
	a.refreshHistoryTable()
	return a
}

// Init starts the spinner and loads the dashboard.
func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick}
	if a.deps.LoadDashboard != nil {
		cmds = append(cmds, a.deps.LoadDashboard())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		a.bar.Width = clampInt(msg.Width-10, 10, 80)
		a.history.SetWidth(msg.Width - 2)
		a.history.SetHeight(clampInt(msg.Height-8, 3, 40))
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case upload.FinishedMsg:
		var cmd tea.Cmd
		a.upload, cmd = a.upload.Update(msg)
		// Server-side history changed; refresh whatever was loaded.
		if msg.Summary.Committed > 0 && a.deps.LoadHistory != nil && (a.uploads != nil || a.runs != nil) {
			return a, tea.Batch(cmd, a.deps.LoadHistory())
		}
		return a, cmd

	case upload.ChunkResultMsg, upload.StageRevealMsg, upload.SettleMsg, upload.RecordedMsg:
		var cmd tea.Cmd
		a.upload, cmd = a.upload.Update(msg)
		a.cursor = clampInt(a.cursor, 0, a.upload.Len()-1)
		return a, cmd

	case search.ResultMsg, search.RecordedMsg:
		var cmd tea.Cmd
		a.search, cmd = a.search.Update(msg)
		return a, cmd

	case HistoryLoaded:
		a.loading = false
		if msg.Err != nil {
			a.err = msg.Err
			return a, nil
		}
		a.uploads = msg.Uploads
		a.searches = msg.Searches
		a.runs = msg.Runs
		a.refreshHistoryTable()
		return a, nil

	case DashboardLoaded:
		a.loading = false
		if msg.Err != nil {
			a.err = msg.Err
		} else {
			a.stats = msg.Stats
		}
		a.health = msg.Health
		a.healthErr = msg.HealthErr
		a.totals = msg.Totals
		return a, nil
	}

	return a, nil
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if otel.TraceEnabled() {
		a.deps.Events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindKeyPress, Comp: "ui",
			Msg: key, Extra: map[string]any{"tab": a.tab.String()}})
	}

	if key == "ctrl+c" {
		return a.quit()
	}

	if a.mode != inputNone {
		return a.handleInputKey(msg)
	}

	// Clear any existing error on key press
	if a.err != nil {
		a.err = nil
	}

	switch key {
	case "q":
		return a.quit()

	case "ctrl+d":
		a.showDebug = !a.showDebug
		return a, nil

	case "tab":
		return a.switchTab((a.tab + 1) % Tab(len(tabNames)))

	case "shift+tab":
		return a.switchTab((a.tab + Tab(len(tabNames)) - 1) % Tab(len(tabNames)))

	case "1", "2", "3", "4":
		return a.switchTab(Tab(key[0] - '1'))
	}

	switch a.tab {
	case TabUpload:
		return a.handleUploadKey(key)
	case TabSearch:
		return a.handleSearchKey(key)
	case TabHistory:
		return a.handleHistoryKey(msg)
	case TabDashboard:
		if key == "r" {
			return a.reloadDashboard()
		}
	}
	return a, nil
}

func (a App) handleUploadKey(key string) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch key {
	case "a", "o":
		if a.upload.Status() == upload.StatusUploading {
			return a, nil
		}
		return a.openInput(inputAddFiles, "paths to JPG/PNG files or folders")

	case "j", "down":
		if a.cursor < a.upload.Len()-1 {
			a.cursor++
		}

	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}

	case "x", "delete", "backspace":
		a.upload, cmd = a.upload.Update(upload.RemoveFileMsg{Index: a.cursor})
		a.cursor = clampInt(a.cursor, 0, a.upload.Len()-1)

	case "c":
		a.upload, cmd = a.upload.Update(upload.ClearFilesMsg{})
		a.cursor = 0

	case "u", "enter":
		a.upload, cmd = a.upload.Update(upload.StartMsg{})

	case "esc":
		a.upload, cmd = a.upload.Update(upload.CancelMsg{})
	}
	return a, cmd
}

func (a App) handleSearchKey(key string) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch key {
	case "/", "o":
		return a.openInput(inputQuery, "path to a JPG/PNG query image")
	case "t":
		a.search, cmd = a.search.Update(search.CycleTopKMsg{})
	case "enter", "s":
		a.search, cmd = a.search.Update(search.SearchMsg{})
	case "c", "esc":
		a.search, cmd = a.search.Update(search.ClearQueryMsg{})
	}
	return a, cmd
}

func (a App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "r":
		return a.reloadHistory()
	case "s":
		a.historyKind = (a.historyKind + 1) % 3
		a.refreshHistoryTable()
		return a, nil
	}
	var cmd tea.Cmd
	a.history, cmd = a.history.Update(msg)
	return a, cmd
}

func (a App) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.closeInput()
		return a, nil
	case "enter":
		value := a.input.Value()
		mode := a.mode
		a.closeInput()
		return a.submitPaths(mode, splitPaths(value))
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a App) submitPaths(mode inputMode, paths []string) (tea.Model, tea.Cmd) {
	if len(paths) == 0 || a.deps.Resolve == nil {
		return a, nil
	}
	files, errs := a.deps.Resolve(paths)
	if len(errs) > 0 {
		a.err = errors.Join(errs...)
		logging.Warn("Some paths could not be read", "count", len(errs), "error", a.err)
	}

	var cmd tea.Cmd
	switch mode {
	case inputAddFiles:
		a.upload, cmd = a.upload.Update(upload.AddFilesMsg{Files: files})
	case inputQuery:
		if len(files) == 0 {
			return a, nil
		}
		if !intake.Allowed(files[0].MIMEType) {
			a.err = fmt.Errorf("%s: query must be a JPG or PNG image", files[0].Name)
			return a, nil
		}
		a.search, cmd = a.search.Update(search.SetQueryMsg{File: files[0]})
	}
	return a, cmd
}

func (a App) openInput(mode inputMode, placeholder string) (tea.Model, tea.Cmd) {
	a.mode = mode
	a.input.SetValue("")
	a.input.Placeholder = placeholder
	a.input.Focus()
	return a, textinput.Blink
}

func (a *App) closeInput() {
	a.mode = inputNone
	a.input.Blur()
	a.input.SetValue("")
}

func (a App) switchTab(t Tab) (tea.Model, tea.Cmd) {
	a.tab = t
	switch t {
	case TabHistory:
		if a.uploads == nil && a.searches == nil && a.runs == nil {
			return a.reloadHistory()
		}
	case TabDashboard:
		if a.stats == nil {
			return a.reloadDashboard()
		}
	}
	return a, nil
}

func (a App) reloadHistory() (tea.Model, tea.Cmd) {
	if a.deps.LoadHistory == nil {
		return a, nil
	}
	a.loading = true
	return a, a.deps.LoadHistory()
}

func (a App) reloadDashboard() (tea.Model, tea.Cmd) {
	if a.deps.LoadDashboard == nil {
		return a, nil
	}
	a.loading = true
	return a, a.deps.LoadDashboard()
}

// quit cancels an in-flight upload before exiting so no further chunk is
// sent. The cancel's journal write runs before the program quits.
func (a App) quit() (tea.Model, tea.Cmd) {
	if a.upload.Status() == upload.StatusUploading {
		var cmd tea.Cmd
		a.upload, cmd = a.upload.Update(upload.CancelMsg{})
		return a, tea.Sequence(cmd, tea.Quit)
	}
	return a, tea.Quit
}

func (a *App) refreshHistoryTable() {
	var cols []table.Column
	var rows []table.Row
	switch a.historyKind {
	case historyUploads:
		cols = []table.Column{{Title: "ID", Width: 6}, {Title: "Time", Width: 20}, {Title: "File", Width: 40}, {Title: "Status", Width: 10}}
		for _, u := range a.uploads {
			rows = append(rows, table.Row{fmt.Sprint(u.ID), u.Time, u.Filename, u.Status})
		}
	case historySearches:
		cols = []table.Column{{Title: "ID", Width: 6}, {Title: "Time", Width: 20}, {Title: "Query", Width: 32}, {Title: "Matches", Width: 8}, {Title: "Best", Width: 8}}
		for _, s := range a.searches {
			best := "-"
			if len(s.Results) > 0 {
				best = search.Percent(search.Similarity(s.Results[0].Score))
			}
			rows = append(rows, table.Row{fmt.Sprint(s.ID), s.CreatedAt, s.QueryImageFilename, fmt.Sprint(len(s.Results)), best})
		}
	case historyRuns:
		cols = []table.Column{{Title: "Run", Width: 10}, {Title: "Started", Width: 20}, {Title: "Files", Width: 12}, {Title: "Outcome", Width: 10}, {Title: "Error", Width: 30}}
		for _, r := range a.runs {
			outcome := r.Outcome
			if outcome == "" {
				outcome = "unfinished"
			}
			rows = append(rows, table.Row{shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%d/%d", r.Committed, r.Total), outcome, r.Err})
		}
	}
	// Rows are cleared first so the table never renders old rows against new columns.
	a.history.SetRows(nil)
	a.history.SetColumns(cols)
	a.history.SetRows(rows)
	a.history.GotoTop()
}

// splitPaths splits user input on whitespace, honouring single and double
// quotes and backslash-escaped spaces as inserted by terminal drag and drop.
func splitPaths(s string) []string {
	var out []string
	var cur strings.Builder
	var quote rune
	inToken := false
	escaped := false

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				out = append(out, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		out = append(out, cur.String())
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Accessors (for tests and the CLI).

func (a App) Tab() Tab                   { return a.tab }
func (a App) Cursor() int                { return a.cursor }
func (a App) Upload() upload.Model       { return a.upload }
func (a App) Search() search.Model       { return a.search }
func (a App) Err() error                 { return a.err }
func (a App) ShowDebug() bool            { return a.showDebug }
func (a App) Stats() *api.DashboardStats { return a.stats }
