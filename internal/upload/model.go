// Package upload runs batch uploads against the ingestion endpoint.
//
// Model is a Bubble Tea sub-model and its Update method is the only place
// the file list, progress, stage and status change. Network calls and
// journal writes run as tea.Cmds; timers are tea.Tick commands. Every asynchronous message carries
// the run ID that spawned it and is discarded when that run is no longer
// active, so a late reveal or settle cannot overwrite a newer run.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/intake"
	"github.com/abelbrown/lookalike/internal/logging"
	"github.com/abelbrown/lookalike/internal/otel"
)

const (
	FailureNotice = "Failed after uploading images. Check connection"
	CancelNotice  = "Upload cancelled."
)

// Uploader sends one chunk in a single request.
type Uploader interface {
	Upload(ctx context.Context, files []intake.CandidateFile) (*api.UploadResponse, error)
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Recorder persists run outcomes. Errors are logged and never affect the run.
type Recorder interface {
	RunStarted(runID string, total, chunks int) error
	ChunkCommitted(runID string, index, size int) error
	RunFinished(runID string, outcome Outcome, committed int, errMsg string) error
}

// Options tunes a Model. Zero durations are valid and fire immediately.
type Options struct {
	ChunkSize   int
	StageReveal time.Duration
	Settle      time.Duration
	Recorder    Recorder
	Events      *otel.Logger
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		ChunkSize:   ChunkSize,
		StageReveal: 300 * time.Millisecond,
		Settle:      2 * time.Second,
	}
}

// Summary describes the most recent finished run.
type Summary struct {
	RunID     string
	Total     int
	Chunks    int
	Committed int
	Outcome   Outcome
	Err       error
	Elapsed   time.Duration
}

// Messages

// AddFilesMsg offers files to the intake. Ignored while uploading.
type AddFilesMsg struct{ Files []intake.CandidateFile }

// RemoveFileMsg removes the file at Index. Ignored while uploading.
type RemoveFileMsg struct{ Index int }

// ClearFilesMsg empties the list. Ignored while uploading.
type ClearFilesMsg struct{}

// StartMsg begins a run over the current list.
type StartMsg struct{}

// CancelMsg aborts the active run before its next chunk.
type CancelMsg struct{}

// ChunkResultMsg reports one upload call.
type ChunkResultMsg struct {
	RunID string
	Index int
	Size  int
	Err   error
	Dur   time.Duration
}

// StageRevealMsg advances the small-batch stage display.
type StageRevealMsg struct {
	RunID string
	Stage Stage
}

// SettleMsg resets the form after a successful run.
type SettleMsg struct{ RunID string }

// FinishedMsg is emitted once per run when it reaches a terminal outcome,
// after the run's journal writes. The model ignores it; parents use it to
// react (the CLI quits on it).
type FinishedMsg struct{ Summary Summary }

// RecordedMsg reports one journal write.
type RecordedMsg struct {
	RunID string
	Op    string
	Err   error
}

// Model holds one upload form. Copy by value; Update returns the next state.
type Model struct {
	uploader Uploader
	opts     Options

	files    intake.Intake
	status   Status
	stage    Stage
	progress Progress
	notice   string

	runID   string
	chunks  [][]intake.CandidateFile
	next    int  // index of the chunk in flight
	small   bool // single call followed by fabricated reveals
	started time.Time
	cancel  context.CancelFunc
	ctx     context.Context

	last Summary

	// writes is closed when the most recently issued journal write is done.
	writes chan struct{}
}

// New creates an idle Model.
func New(up Uploader, opts Options) Model {
	if opts.ChunkSize <= 0 || opts.ChunkSize > ChunkSize {
		opts.ChunkSize = ChunkSize
	}
	return Model{uploader: up, opts: opts}
}

// Update is the reducer.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case AddFilesMsg:
		if m.status == StatusUploading {
			return m, nil
		}
		m.endSuccessDisplay()
		accepted, rejected := m.files.Accept(msg.Files)
		m.notice = ""
		if rejected > 0 {
			m.opts.Events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindIntakeReject, Comp: "upload",
				Count: rejected, Msg: intake.SkippedNotice})
		}
		m.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindIntakeAccept, Comp: "upload",
			Count: accepted, Total: m.files.Len()})
		return m, nil

	case RemoveFileMsg:
		if m.status == StatusUploading {
			return m, nil
		}
		m.endSuccessDisplay()
		m.files.Remove(msg.Index)
		return m, nil

	case ClearFilesMsg:
		if m.status == StatusUploading {
			return m, nil
		}
		m.endSuccessDisplay()
		m.files.Clear()
		m.notice = ""
		return m, nil

	case StartMsg:
		return m.start()

	case CancelMsg:
		return m.cancelRun()

	case ChunkResultMsg:
		return m.handleChunk(msg)

	case StageRevealMsg:
		return m.handleReveal(msg)

	case SettleMsg:
		return m.handleSettle(msg)

	case RecordedMsg:
		if msg.Err != nil {
			logging.Warn("Journal write failed", "run", msg.RunID, "op", msg.Op, "error", msg.Err)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) start() (Model, tea.Cmd) {
	if m.status == StatusUploading || m.files.Len() == 0 {
		return m, nil
	}

	files := m.files.Files()
	// The single-call path is keyed on the endpoint bound, not the
	// configured chunk size.
	m.small = len(files) < ChunkSize
	if m.small {
		m.chunks = [][]intake.CandidateFile{files}
	} else {
		m.chunks = Chunk(files, m.opts.ChunkSize)
	}
	m.next = 0
	m.runID = uuid.NewString()
	m.started = time.Now()
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.files.DismissNotice()
	m.notice = ""
	m.status = StatusUploading
	m.stage = StageSaving
	m.progress = Progress{Processed: 0, Total: len(files)}

	logging.Info("Upload started", "run", m.runID, "files", len(files), "chunks", len(m.chunks))
	m.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindUploadStart, Comp: "upload",
		RunID: m.runID, Total: len(files), Count: len(m.chunks)})

	runID, total, chunks := m.runID, len(files), len(m.chunks)
	started := m.record("start", func(r Recorder) error {
		return r.RunStarted(runID, total, chunks)
	})
	return m, tea.Batch(started, m.dispatch())
}

// dispatch returns the command that sends chunk m.next. The run context is
// checked first so a cancelled run sends nothing further.
func (m Model) dispatch() tea.Cmd {
	ctx := m.ctx
	up := m.uploader
	runID := m.runID
	index := m.next
	chunk := m.chunks[index]

	return func() tea.Msg {
		if err := ctx.Err(); err != nil {
			return ChunkResultMsg{RunID: runID, Index: index, Size: len(chunk), Err: err}
		}
		start := time.Now()
		_, err := up.Upload(ctx, chunk)
		return ChunkResultMsg{RunID: runID, Index: index, Size: len(chunk), Err: err, Dur: time.Since(start)}
	}
}

func (m Model) handleChunk(msg ChunkResultMsg) (Model, tea.Cmd) {
	if msg.RunID != m.runID || m.status != StatusUploading || msg.Index != m.next {
		m.stale(msg.RunID, "chunk result")
		return m, nil
	}

	if msg.Err != nil {
		return m.fail(msg)
	}

	m.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindUploadChunk, Comp: "upload",
		RunID: m.runID, Chunk: msg.Index + 1, Total: len(m.chunks), Count: msg.Size, Dur: msg.Dur})
	runID := m.runID
	committed := m.record("chunk", func(r Recorder) error {
		return r.ChunkCommitted(runID, msg.Index, msg.Size)
	})

	if m.small {
		m.progress.Processed = m.progress.Total
		return m, tea.Batch(committed, m.revealAfter(StagePreprocessing))
	}

	m.progress.Processed += msg.Size
	if m.progress.Processed > m.progress.Total {
		m.progress.Processed = m.progress.Total
	}
	m.setStage(StageFor(m.progress))
	logging.Debug("Chunk committed", "run", m.runID, "chunk", msg.Index+1, "of", len(m.chunks),
		"processed", m.progress.Processed, "total", m.progress.Total)

	m.next++
	if m.next < len(m.chunks) {
		return m, tea.Batch(committed, m.dispatch())
	}

	m.setStage(StageDone)
	m, done := m.succeed()
	return m, tea.Batch(committed, done)
}

func (m Model) handleReveal(msg StageRevealMsg) (Model, tea.Cmd) {
	if msg.RunID != m.runID || m.status != StatusUploading || !m.small {
		m.stale(msg.RunID, "stage reveal")
		return m, nil
	}
	m.setStage(msg.Stage)
	if msg.Stage < StageDone {
		return m, m.revealAfter(msg.Stage + 1)
	}
	return m.succeed()
}

func (m Model) handleSettle(msg SettleMsg) (Model, tea.Cmd) {
	if msg.RunID != m.runID || m.status != StatusSuccess {
		m.stale(msg.RunID, "settle")
		return m, nil
	}
	m.opts.Events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindUploadSettle, Comp: "upload", RunID: m.runID})
	m.files.Clear()
	m.reset()
	return m, nil
}

func (m Model) succeed() (Model, tea.Cmd) {
	m.status = StatusSuccess
	summary, recorded := m.finish(OutcomeSuccess, nil)

	logging.Info("Upload complete", "run", m.runID, "files", summary.Committed, "elapsed", summary.Elapsed)
	m.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindUploadComplete, Comp: "upload",
		RunID: m.runID, Count: summary.Committed, Total: summary.Total, Dur: summary.Elapsed})

	runID := m.runID
	settle := tea.Tick(m.opts.Settle, func(time.Time) tea.Msg { return SettleMsg{RunID: runID} })
	return m, tea.Batch(recorded, m.finished(summary), settle)
}

func (m Model) fail(msg ChunkResultMsg) (Model, tea.Cmd) {
	summary, recorded := m.finish(OutcomeFailed, msg.Err)

	logging.Error("Upload failed", "run", m.runID, "chunk", msg.Index+1, "of", len(m.chunks),
		"committed", summary.Committed, "error", msg.Err)
	m.opts.Events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindUploadError, Comp: "upload",
		RunID: m.runID, Chunk: msg.Index + 1, Total: len(m.chunks), Count: summary.Committed,
		Dur: msg.Dur, Err: msg.Err.Error()})

	done := m.finished(summary)
	m.reset()
	m.notice = FailureNotice
	return m, tea.Batch(recorded, done)
}

func (m Model) cancelRun() (Model, tea.Cmd) {
	if m.status != StatusUploading {
		return m, nil
	}
	summary, recorded := m.finish(OutcomeCancelled, context.Canceled)

	logging.Info("Upload cancelled", "run", m.runID, "committed", summary.Committed)
	m.opts.Events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindUploadCancel, Comp: "upload",
		RunID: m.runID, Count: summary.Committed, Total: summary.Total})

	done := m.finished(summary)
	m.reset()
	m.notice = CancelNotice
	return m, tea.Batch(recorded, done)
}

// finish releases the run context, stores the summary and returns the
// command that records the outcome. It does not change status.
func (m *Model) finish(outcome Outcome, err error) (Summary, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	committed := m.committed()
	s := Summary{
		RunID:     m.runID,
		Total:     m.progress.Total,
		Chunks:    len(m.chunks),
		Committed: committed,
		Outcome:   outcome,
		Err:       err,
		Elapsed:   time.Since(m.started),
	}
	m.last = s

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	runID := m.runID
	recorded := m.record("finish", func(r Recorder) error {
		return r.RunFinished(runID, outcome, committed, errMsg)
	})
	return s, recorded
}

// record returns a command that runs write once every journal write this
// model issued before it is done, or nil without a recorder. Commands run on
// separate goroutines; the chain keeps start, chunk and finish rows in order.
func (m *Model) record(op string, write func(Recorder) error) tea.Cmd {
	r := m.opts.Recorder
	if r == nil {
		return nil
	}
	prev, done := m.writes, make(chan struct{})
	m.writes = done
	runID := m.runID
	return func() tea.Msg {
		if prev != nil {
			<-prev
		}
		defer close(done)
		return RecordedMsg{RunID: runID, Op: op, Err: write(r)}
	}
}

// finished returns the FinishedMsg command. It waits for the journal writes
// issued so far, so a parent that quits on FinishedMsg keeps the outcome.
func (m Model) finished(s Summary) tea.Cmd {
	wait := m.writes
	return func() tea.Msg {
		if wait != nil {
			<-wait
		}
		return FinishedMsg{Summary: s}
	}
}

// committed counts files the backend has acknowledged in this run.
func (m Model) committed() int {
	if m.small {
		return m.progress.Processed
	}
	n := 0
	for i := 0; i < m.next && i < len(m.chunks); i++ {
		n += len(m.chunks[i])
	}
	return n
}

// reset returns the run fields to Idle and forgets the run ID so any
// pending reveal, settle or chunk result becomes stale.
func (m *Model) reset() {
	m.status = StatusIdle
	m.stage = StageIdle
	m.progress = Progress{}
	m.runID = ""
	m.chunks = nil
	m.next = 0
	m.small = false
	m.cancel = nil
	m.ctx = nil
}

// endSuccessDisplay drops a finished run's success display when the user
// edits the list before the settle fires.
func (m *Model) endSuccessDisplay() {
	if m.status == StatusSuccess {
		m.reset()
	}
}

func (m *Model) setStage(s Stage) {
	if s == m.stage {
		return
	}
	m.stage = s
	m.opts.Events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindUploadStage, Comp: "upload",
		RunID: m.runID, Stage: int(s), Msg: s.String()})
}

func (m Model) revealAfter(s Stage) tea.Cmd {
	runID := m.runID
	return tea.Tick(m.opts.StageReveal, func(time.Time) tea.Msg {
		return StageRevealMsg{RunID: runID, Stage: s}
	})
}

func (m Model) stale(runID, what string) {
	logging.Debug("Discarding stale upload message", "kind", what, "run", runID, "active", m.runID)
	m.opts.Events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindUploadStale, Comp: "upload",
		RunID: runID, Msg: what})
}

// Accessors

func (m Model) Status() Status                { return m.status }
func (m Model) Stage() Stage                  { return m.stage }
func (m Model) Progress() Progress            { return m.progress }
func (m Model) Files() []intake.CandidateFile { return m.files.Files() }
func (m Model) Len() int                      { return m.files.Len() }
func (m Model) TotalSize() int64              { return m.files.TotalSize() }
func (m Model) RunID() string                 { return m.runID }
func (m Model) LastRun() Summary              { return m.last }
func (m Model) ChunkTotal() int               { return len(m.chunks) }

// Notice returns the failure or cancel notice if set, otherwise the
// intake's skipped-files notice.
func (m Model) Notice() string {
	if m.notice != "" {
		return m.notice
	}
	return m.files.Notice()
}

// StatusText is the one-line status shown beside the progress bar.
func (m Model) StatusText() string {
	switch m.status {
	case StatusUploading:
		if m.small {
			return fmt.Sprintf("Uploading %d images...", m.progress.Total)
		}
		return fmt.Sprintf("Uploading %d images... %d/%d", m.progress.Total, m.progress.Processed, m.progress.Total)
	case StatusSuccess:
		return fmt.Sprintf("Uploaded %d images", m.last.Committed)
	default:
		if n := m.files.Len(); n > 0 {
			return fmt.Sprintf("%d files selected", n)
		}
		return "No files selected"
	}
}

// IsCancelled reports whether err is the cancellation recorded for a run.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
