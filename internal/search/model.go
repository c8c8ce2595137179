// Package search issues similarity searches and shapes their results.
//
// Model is a Bubble Tea sub-model. One search is in flight at a time from the
// user's point of view: each search gets a fresh query ID and a result whose
// ID no longer matches is dropped.
package search

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/intake"
	"github.com/abelbrown/lookalike/internal/logging"
	"github.com/abelbrown/lookalike/internal/otel"
)

// Searcher runs one search call.
type Searcher interface {
	Search(ctx context.Context, query intake.CandidateFile, topK int) (*api.SearchResponse, error)
}

// Record is one finished search as written to the journal.
type Record struct {
	QueryID  string
	Filename string
	TopK     int
	Results  int
	Elapsed  time.Duration
	Err      string
}

// Recorder persists finished searches. Errors are logged only.
type Recorder interface {
	SearchFinished(r Record) error
}

// RecordedMsg reports a journal write issued by the record command.
type RecordedMsg struct {
	QueryID string
	Err     error
}

// Options configures a Model.
type Options struct {
	TopK     int
	Recorder Recorder
	Events   *otel.Logger
}

// SetQueryMsg selects the query image and resets any results.
type SetQueryMsg struct{ File intake.CandidateFile }

// ClearQueryMsg removes the query image and results.
type ClearQueryMsg struct{}

// SetTopKMsg selects the result count.
type SetTopKMsg struct{ TopK int }

// CycleTopKMsg advances to the next entry of TopKOptions.
type CycleTopKMsg struct{}

// SearchMsg runs a search for the current query.
type SearchMsg struct{}

// ResultMsg carries the outcome of one search call.
type ResultMsg struct {
	QueryID  string
	Response *api.SearchResponse
	Err      error
	Elapsed  time.Duration
}

// Model holds the search form.
type Model struct {
	searcher Searcher
	opts     Options

	query     *intake.CandidateFile
	topK      int
	queryID   string
	searching bool
	results   []DisplayResult
	elapsed   time.Duration
	searched  bool
	err       error
}

// New creates a Model with no query.
func New(s Searcher, opts Options) Model {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return Model{searcher: s, opts: opts, topK: topK}
}

// Update is the reducer.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SetQueryMsg:
		f := msg.File
		m.query = &f
		m.resetResults()
		return m, nil

	case ClearQueryMsg:
		m.query = nil
		m.resetResults()
		return m, nil

	case SetTopKMsg:
		if msg.TopK > 0 {
			m.topK = msg.TopK
		}
		return m, nil

	case CycleTopKMsg:
		m.topK = nextTopK(m.topK)
		return m, nil

	case SearchMsg:
		return m.search()

	case ResultMsg:
		return m.handleResult(msg)

	case RecordedMsg:
		if msg.Err != nil {
			logging.Warn("Journal write failed", "qid", msg.QueryID, "error", msg.Err)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) search() (Model, tea.Cmd) {
	if m.query == nil {
		return m, nil
	}

	m.queryID = uuid.NewString()
	m.searching = true
	m.results = nil
	m.err = nil
	m.searched = false

	query := *m.query
	topK := m.topK
	qid := m.queryID
	s := m.searcher

	logging.Info("Search started", "qid", qid, "file", query.Name, "top_k", topK)
	m.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindSearchStart, Comp: "search",
		QueryID: qid, Count: topK, Msg: query.Name})

	return m, func() tea.Msg {
		start := time.Now()
		resp, err := s.Search(context.Background(), query, topK)
		return ResultMsg{QueryID: qid, Response: resp, Err: err, Elapsed: time.Since(start)}
	}
}

func (m Model) handleResult(msg ResultMsg) (Model, tea.Cmd) {
	if msg.QueryID != m.queryID || !m.searching {
		logging.Debug("Discarding stale search result", "qid", msg.QueryID, "active", m.queryID)
		m.opts.Events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindSearchStale, Comp: "search", QueryID: msg.QueryID})
		return m, nil
	}

	m.searching = false
	m.elapsed = msg.Elapsed
	m.searched = true

	rec := Record{QueryID: msg.QueryID, TopK: m.topK, Elapsed: msg.Elapsed}
	if m.query != nil {
		rec.Filename = m.query.Name
	}

	if msg.Err != nil {
		m.results = nil
		m.err = msg.Err
		rec.Err = msg.Err.Error()
		logging.Error("Search failed", "qid", msg.QueryID, "error", msg.Err)
		m.opts.Events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindSearchError, Comp: "search",
			QueryID: msg.QueryID, Dur: msg.Elapsed, Err: msg.Err.Error()})
	} else {
		var raw []api.SearchResult
		if msg.Response != nil {
			raw = msg.Response.Results
		}
		m.results = Transform(raw)
		m.err = nil
		rec.Results = len(m.results)
		logging.Info("Search complete", "qid", msg.QueryID, "results", len(m.results), "elapsed", FormatElapsed(msg.Elapsed))
		m.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindSearchComplete, Comp: "search",
			QueryID: msg.QueryID, Count: len(m.results), Dur: msg.Elapsed})
	}

	return m, m.record(rec)
}

// record returns the command that writes rec to the journal, or nil when
// there is no recorder.
func (m Model) record(rec Record) tea.Cmd {
	r := m.opts.Recorder
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		return RecordedMsg{QueryID: rec.QueryID, Err: r.SearchFinished(rec)}
	}
}

// resetResults drops results and invalidates any in-flight search.
func (m *Model) resetResults() {
	m.results = nil
	m.err = nil
	m.elapsed = 0
	m.searched = false
	m.searching = false
	m.queryID = ""
}

func nextTopK(current int) int {
	for i, k := range TopKOptions {
		if k == current {
			return TopKOptions[(i+1)%len(TopKOptions)]
		}
	}
	return TopKOptions[0]
}

// Accessors

func (m Model) Query() (intake.CandidateFile, bool) {
	if m.query == nil {
		return intake.CandidateFile{}, false
	}
	return *m.query, true
}

func (m Model) TopK() int                { return m.topK }
func (m Model) Searching() bool          { return m.searching }
func (m Model) Results() []DisplayResult { return m.results }
func (m Model) Elapsed() time.Duration   { return m.elapsed }
func (m Model) Err() error               { return m.err }
func (m Model) QueryID() string          { return m.queryID }

// Done reports whether the last search finished, successfully or not.
func (m Model) Done() bool { return m.searched }

// Summary is the line shown above the results, e.g.
// "Found 10 matches in 0.42s". Empty before a search completes.
func (m Model) Summary() string {
	if !m.searched || m.err != nil {
		return ""
	}
	return fmt.Sprintf("Found %d matches in %ss", len(m.results), FormatElapsed(m.elapsed))
}
