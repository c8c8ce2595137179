package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/intake"
)

// fakeUploader records every call and fails the call numbered failOn (1-based).
type fakeUploader struct {
	mu     sync.Mutex
	calls  [][]string
	failOn int
}

func (f *fakeUploader) Upload(ctx context.Context, files []intake.CandidateFile) (*api.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.Name
	}
	f.calls = append(f.calls, names)
	if len(f.calls) == f.failOn {
		return nil, errors.New("connection reset")
	}
	return &api.UploadResponse{Message: "ok"}, nil
}

func (f *fakeUploader) sizes() []int {
	out := make([]int, len(f.calls))
	for i, c := range f.calls {
		out[i] = len(c)
	}
	return out
}

type fakeRecorder struct {
	mu        sync.Mutex
	log       []string
	started   []string
	committed []int
	outcomes  []Outcome
	count     []int
}

func (r *fakeRecorder) RunStarted(runID string, total, chunks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "start")
	r.started = append(r.started, runID)
	return nil
}

func (r *fakeRecorder) ChunkCommitted(runID string, index, size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, fmt.Sprintf("chunk%d", index+1))
	r.committed = append(r.committed, size)
	return nil
}

func (r *fakeRecorder) RunFinished(runID string, outcome Outcome, committed int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "finish:"+string(outcome))
	r.outcomes = append(r.outcomes, outcome)
	r.count = append(r.count, committed)
	return nil
}

func (r *fakeRecorder) ops() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.log, " ")
}

func images(n int) []intake.CandidateFile {
	out := make([]intake.CandidateFile, n)
	for i := range out {
		out[i] = intake.CandidateFile{
			Name:     fmt.Sprintf("img%03d.jpg", i),
			Size:     2048,
			MIMEType: "image/jpeg",
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader("x")), nil
			},
		}
	}
	return out
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.StageReveal = time.Millisecond
	opts.Settle = time.Millisecond
	return opts
}

// trace records what the reducer exposed after each message.
type trace struct {
	stages    []Stage
	processed []int
	finished  []Summary
}

// drive feeds cmd's messages back into m until no commands remain.
// Messages are processed in FIFO order; tea.BatchMsg is flattened.
// stopAt, when non-nil, halts before handling the first message it matches.
func drive(t *testing.T, m Model, cmd tea.Cmd, tr *trace, stopAt func(tea.Msg) bool) (Model, tea.Msg) {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 1000 {
			t.Fatal("driver did not terminate")
		}
		c := queue[0]
		queue = queue[1:]
		if c == nil {
			continue
		}
		msg := c()
		if batch, ok := msg.(tea.BatchMsg); ok {
			queue = append(queue, batch...)
			continue
		}
		if stopAt != nil && stopAt(msg) {
			return m, msg
		}
		if f, ok := msg.(FinishedMsg); ok && tr != nil {
			tr.finished = append(tr.finished, f.Summary)
		}
		before := m.Stage()
		var next tea.Cmd
		m, next = m.Update(msg)
		if tr != nil {
			if m.Stage() != before && m.Stage() != StageIdle {
				tr.stages = append(tr.stages, m.Stage())
			}
			tr.processed = append(tr.processed, m.Progress().Processed)
		}
		queue = append(queue, next)
	}
	return m, nil
}

// collect runs cmd and every command in any batch it returns, in order, and
// returns the resulting messages without applying them.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func isSettle(msg tea.Msg) bool {
	_, ok := msg.(SettleMsg)
	return ok
}

func startWith(t *testing.T, up Uploader, opts Options, n int) (Model, tea.Cmd) {
	t.Helper()
	m := New(up, opts)
	m, _ = m.Update(AddFilesMsg{Files: images(n)})
	m, cmd := m.Update(StartMsg{})
	if m.Status() != StatusUploading {
		t.Fatalf("status after start = %v, want uploading", m.Status())
	}
	if m.Stage() != StageSaving {
		t.Fatalf("stage after start = %v, want saving", m.Stage())
	}
	return m, cmd
}

func TestLargeBatchChunksAndStages(t *testing.T) {
	up := &fakeUploader{}
	rec := &fakeRecorder{}
	opts := fastOptions()
	opts.Recorder = rec

	m, cmd := startWith(t, up, opts, 120)
	if m.Progress() != (Progress{Processed: 0, Total: 120}) {
		t.Errorf("progress after start = %+v", m.Progress())
	}

	tr := &trace{}
	m, _ = drive(t, m, cmd, tr, isSettle)

	if got := up.sizes(); fmt.Sprint(got) != "[50 50 20]" {
		t.Errorf("chunk sizes = %v, want [50 50 20]", got)
	}
	if fmt.Sprint(tr.stages) != fmt.Sprint([]Stage{StagePreprocessing, StageIndexing, StageDone}) {
		t.Errorf("stages = %v, want [preprocessing indexing done]", tr.stages)
	}
	if m.Status() != StatusSuccess {
		t.Errorf("status = %v, want success", m.Status())
	}
	if m.Progress().Processed != 120 {
		t.Errorf("processed = %d, want 120", m.Progress().Processed)
	}
	if len(tr.finished) != 1 || tr.finished[0].Outcome != OutcomeSuccess || tr.finished[0].Committed != 120 {
		t.Errorf("finished = %+v", tr.finished)
	}
	if fmt.Sprint(rec.committed) != "[50 50 20]" || fmt.Sprint(rec.outcomes) != "[success]" {
		t.Errorf("recorder committed=%v outcomes=%v", rec.committed, rec.outcomes)
	}
}

func TestChunksSentInOrder(t *testing.T) {
	up := &fakeUploader{}
	m, cmd := startWith(t, up, fastOptions(), 120)
	drive(t, m, cmd, nil, isSettle)

	var sent []string
	for _, c := range up.calls {
		sent = append(sent, c...)
	}
	for i, f := range images(120) {
		if sent[i] != f.Name {
			t.Fatalf("file %d sent as %s, want %s", i, sent[i], f.Name)
		}
	}
}

func TestProgressMonotonic(t *testing.T) {
	m, cmd := startWith(t, &fakeUploader{}, fastOptions(), 237)
	tr := &trace{}
	drive(t, m, cmd, tr, isSettle)

	prev := 0
	for _, p := range tr.processed {
		if p < prev {
			t.Fatalf("processed decreased: %v", tr.processed)
		}
		if p > 237 {
			t.Fatalf("processed exceeded total: %v", tr.processed)
		}
		prev = p
	}
	if prev != 237 {
		t.Errorf("final processed = %d, want 237", prev)
	}
}

func TestSmallBatchRevealsEveryStage(t *testing.T) {
	up := &fakeUploader{}
	m := New(up, fastOptions())
	m, _ = m.Update(AddFilesMsg{Files: images(10)})
	m, cmd := m.Update(StartMsg{})

	if m.Stage() != StageSaving {
		t.Fatalf("stage after start = %v, want saving", m.Stage())
	}
	tr := &trace{stages: []Stage{m.Stage()}}
	m, _ = drive(t, m, cmd, tr, isSettle)

	if len(up.calls) != 1 || len(up.calls[0]) != 10 {
		t.Errorf("calls = %v, want one call of 10", up.sizes())
	}
	want := []Stage{StageSaving, StagePreprocessing, StageEmbedding, StageIndexing, StageDone}
	if fmt.Sprint(tr.stages) != fmt.Sprint(want) {
		t.Errorf("stages = %v, want %v", tr.stages, want)
	}
	if m.Status() != StatusSuccess {
		t.Errorf("status = %v, want success", m.Status())
	}
}

func TestSmallBatchStaysUploadingUntilDone(t *testing.T) {
	m, cmd := startWith(t, &fakeUploader{}, fastOptions(), 3)

	// Stop at the third reveal (stage 4): status must still be uploading.
	m, msg := drive(t, m, cmd, nil, func(msg tea.Msg) bool {
		r, ok := msg.(StageRevealMsg)
		return ok && r.Stage == StageDone
	})
	if msg == nil {
		t.Fatal("never reached the final reveal")
	}
	if m.Status() != StatusUploading || m.Stage() != StageIndexing {
		t.Errorf("before final reveal: status=%v stage=%v", m.Status(), m.Stage())
	}

	m, _ = m.Update(msg)
	if m.Status() != StatusSuccess || m.Stage() != StageDone {
		t.Errorf("after final reveal: status=%v stage=%v", m.Status(), m.Stage())
	}
}

func TestSmallBatchFailure(t *testing.T) {
	up := &fakeUploader{failOn: 1}
	m, cmd := startWith(t, up, fastOptions(), 4)

	tr := &trace{}
	m, _ = drive(t, m, cmd, tr, nil)

	if m.Status() != StatusIdle || m.Stage() != StageIdle {
		t.Errorf("status=%v stage=%v, want idle/idle", m.Status(), m.Stage())
	}
	if m.Notice() != FailureNotice {
		t.Errorf("notice = %q", m.Notice())
	}
	if len(tr.stages) != 0 {
		t.Errorf("stage advanced on failure: %v", tr.stages)
	}
	if m.Len() != 4 {
		t.Errorf("files kept = %d, want 4", m.Len())
	}
}

func TestFailureOnSecondChunk(t *testing.T) {
	up := &fakeUploader{failOn: 2}
	rec := &fakeRecorder{}
	opts := fastOptions()
	opts.Recorder = rec

	m, cmd := startWith(t, up, opts, 120)
	tr := &trace{}
	m, _ = drive(t, m, cmd, tr, nil)

	if got := up.sizes(); fmt.Sprint(got) != "[50 50]" {
		t.Errorf("calls = %v, want [50 50] (third chunk never sent)", got)
	}
	if m.Status() != StatusIdle || m.Stage() != StageIdle {
		t.Errorf("status=%v stage=%v, want idle/idle", m.Status(), m.Stage())
	}
	if m.Notice() != FailureNotice {
		t.Errorf("notice = %q, want %q", m.Notice(), FailureNotice)
	}
	last := m.LastRun()
	if last.Outcome != OutcomeFailed || last.Committed != 50 || last.Err == nil {
		t.Errorf("last run = %+v, want failed with 50 committed", last)
	}
	if fmt.Sprint(rec.count) != "[50]" {
		t.Errorf("recorded committed = %v, want [50]", rec.count)
	}
	if m.Len() != 120 {
		t.Errorf("files kept = %d, want 120", m.Len())
	}
}

func TestSettleClearsForm(t *testing.T) {
	m, cmd := startWith(t, &fakeUploader{}, fastOptions(), 60)
	m, _ = drive(t, m, cmd, nil, nil)

	if m.Status() != StatusIdle || m.Stage() != StageIdle {
		t.Errorf("status=%v stage=%v after settle", m.Status(), m.Stage())
	}
	if m.Len() != 0 {
		t.Errorf("files = %d after settle, want 0", m.Len())
	}
	if m.Progress() != (Progress{}) {
		t.Errorf("progress = %+v after settle", m.Progress())
	}
	if m.LastRun().Committed != 60 {
		t.Errorf("last run committed = %d", m.LastRun().Committed)
	}
}

func TestStaleSettleAfterNewFilesIsIgnored(t *testing.T) {
	m, cmd := startWith(t, &fakeUploader{}, fastOptions(), 5)
	m, msg := drive(t, m, cmd, nil, isSettle)
	if msg == nil || m.Status() != StatusSuccess {
		t.Fatalf("expected success with pending settle, status=%v", m.Status())
	}

	m, _ = m.Update(AddFilesMsg{Files: images(2)})
	if m.Status() != StatusIdle {
		t.Errorf("adding files during success should return to idle, got %v", m.Status())
	}

	m, _ = m.Update(msg)
	if m.Len() != 7 {
		t.Errorf("stale settle cleared the list: len=%d, want 7", m.Len())
	}
}

func TestStaleRevealAfterRestartIsIgnored(t *testing.T) {
	up := &fakeUploader{}
	m, cmd := startWith(t, up, fastOptions(), 5)

	// Run the upload call and capture the first reveal without applying it.
	m, reveal := drive(t, m, cmd, nil, func(msg tea.Msg) bool {
		_, ok := msg.(StageRevealMsg)
		return ok
	})
	if reveal == nil {
		t.Fatal("no reveal scheduled")
	}

	m, _ = m.Update(CancelMsg{})
	m, _ = m.Update(StartMsg{})
	if m.Stage() != StageSaving {
		t.Fatalf("restart stage = %v", m.Stage())
	}

	m, _ = m.Update(reveal)
	if m.Stage() != StageSaving {
		t.Errorf("stale reveal applied: stage = %v, want saving", m.Stage())
	}
}

func TestCancelStopsBeforeNextChunk(t *testing.T) {
	up := &fakeUploader{}
	rec := &fakeRecorder{}
	opts := fastOptions()
	opts.Recorder = rec
	m, cmd := startWith(t, up, opts, 150)

	// Apply the first chunk result, keep the dispatch of chunk 2 pending.
	var next tea.Cmd
	for _, msg := range collect(cmd) {
		var c tea.Cmd
		m, c = m.Update(msg)
		if c != nil {
			next = c
		}
	}
	if m.Progress().Processed != 50 {
		t.Fatalf("processed = %d after first chunk", m.Progress().Processed)
	}

	m, finish := m.Update(CancelMsg{})
	if m.Status() != StatusIdle || m.Notice() != CancelNotice {
		t.Errorf("status=%v notice=%q after cancel", m.Status(), m.Notice())
	}

	var res ChunkResultMsg
	found := false
	for _, msg := range collect(next) {
		if r, ok := msg.(ChunkResultMsg); ok {
			res, found = r, true
		}
	}
	if !found || !IsCancelled(res.Err) {
		t.Fatalf("pending dispatch returned %#v, want cancelled result", res)
	}
	m, _ = m.Update(res)
	if m.Status() != StatusIdle || m.Notice() != CancelNotice {
		t.Errorf("stale cancelled result changed state: status=%v notice=%q", m.Status(), m.Notice())
	}
	if len(up.calls) != 1 {
		t.Errorf("uploader called %d times, want 1", len(up.calls))
	}
	if m.LastRun().Outcome != OutcomeCancelled || m.LastRun().Committed != 50 {
		t.Errorf("last run = %+v", m.LastRun())
	}
	var finished bool
	for _, msg := range collect(finish) {
		if _, ok := msg.(FinishedMsg); ok {
			finished = true
		}
	}
	if !finished {
		t.Error("cancel should emit FinishedMsg")
	}
	if got := rec.ops(); got != "start chunk1 finish:cancelled" {
		t.Errorf("journal ops = %q", got)
	}
}

func TestUpdateDoesNotWriteJournal(t *testing.T) {
	rec := &fakeRecorder{}
	opts := fastOptions()
	opts.Recorder = rec
	m, cmd := startWith(t, &fakeUploader{}, opts, 60)
	if got := rec.ops(); got != "" {
		t.Fatalf("start wrote to the journal inside Update: %q", got)
	}

	// Apply the chunk result but not the commands it returns.
	for _, msg := range collect(cmd) {
		if _, ok := msg.(ChunkResultMsg); ok {
			m, _ = m.Update(msg)
		}
	}
	if got := rec.ops(); got != "start" {
		t.Errorf("journal ops after first chunk = %q, want only the start command's write", got)
	}
	if m.Progress().Processed != 50 {
		t.Errorf("processed = %d", m.Progress().Processed)
	}
}

func TestJournalWritesStayOrderedAcrossGoroutines(t *testing.T) {
	rec := &fakeRecorder{}
	opts := fastOptions()
	opts.Recorder = rec
	m, cmd := startWith(t, &fakeUploader{}, opts, 120)

	// Run every command on its own goroutine the way tea.Program does.
	msgs := make(chan tea.Msg, 64)
	var run func(tea.Cmd)
	run = func(c tea.Cmd) {
		if c == nil {
			return
		}
		go func() {
			msg := c()
			if batch, ok := msg.(tea.BatchMsg); ok {
				for _, b := range batch {
					run(b)
				}
				return
			}
			msgs <- msg
		}()
	}
	run(cmd)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-msgs:
			if f, ok := msg.(FinishedMsg); ok {
				if f.Summary.Outcome != OutcomeSuccess {
					t.Fatalf("outcome = %v", f.Summary.Outcome)
				}
				// FinishedMsg waits for the journal, so the log is complete here.
				if got := rec.ops(); got != "start chunk1 chunk2 chunk3 finish:success" {
					t.Errorf("journal ops = %q", got)
				}
				return
			}
			var next tea.Cmd
			m, next = m.Update(msg)
			run(next)
		case <-timeout:
			t.Fatalf("run did not finish; journal ops = %q", rec.ops())
		}
	}
}

func TestSmallBatchUsesEndpointBoundNotChunkSize(t *testing.T) {
	up := &fakeUploader{}
	opts := fastOptions()
	opts.ChunkSize = 10

	m, cmd := startWith(t, up, opts, 30)
	tr := &trace{}
	m, _ = drive(t, m, cmd, tr, isSettle)

	if got := up.sizes(); fmt.Sprint(got) != "[30]" {
		t.Errorf("calls = %v, want one call of 30", got)
	}
	want := []Stage{StagePreprocessing, StageEmbedding, StageIndexing, StageDone}
	if fmt.Sprint(tr.stages) != fmt.Sprint(want) {
		t.Errorf("stages = %v, want %v", tr.stages, want)
	}
	if m.Status() != StatusSuccess {
		t.Errorf("status = %v", m.Status())
	}
}

func TestConfiguredChunkSizeSplitsLargeBatches(t *testing.T) {
	up := &fakeUploader{}
	opts := fastOptions()
	opts.ChunkSize = 20

	m, cmd := startWith(t, up, opts, 55)
	drive(t, m, cmd, nil, isSettle)

	if got := up.sizes(); fmt.Sprint(got) != "[20 20 15]" {
		t.Errorf("calls = %v, want [20 20 15]", got)
	}
}

func TestEmptyStartIsNoop(t *testing.T) {
	up := &fakeUploader{}
	m := New(up, fastOptions())
	m, cmd := m.Update(StartMsg{})
	if cmd != nil || m.Status() != StatusIdle || m.RunID() != "" {
		t.Errorf("empty start changed state: status=%v cmd=%v", m.Status(), cmd != nil)
	}
}

func TestStartWhileUploadingIsNoop(t *testing.T) {
	m, _ := startWith(t, &fakeUploader{}, fastOptions(), 3)
	runID := m.RunID()
	m, cmd := m.Update(StartMsg{})
	if cmd != nil || m.RunID() != runID {
		t.Error("second start should be ignored while uploading")
	}
}

func TestIntakeIgnoredWhileUploading(t *testing.T) {
	m, _ := startWith(t, &fakeUploader{}, fastOptions(), 3)
	m, _ = m.Update(AddFilesMsg{Files: images(2)})
	m, _ = m.Update(RemoveFileMsg{Index: 0})
	m, _ = m.Update(ClearFilesMsg{})
	if m.Len() != 3 {
		t.Errorf("len = %d, want 3", m.Len())
	}
}

func TestStartClearsNotices(t *testing.T) {
	m := New(&fakeUploader{}, fastOptions())
	m, _ = m.Update(AddFilesMsg{Files: append(images(2), intake.CandidateFile{Name: "a.pdf", MIMEType: "application/pdf"})})
	if m.Notice() != intake.SkippedNotice {
		t.Fatalf("notice = %q", m.Notice())
	}
	m, _ = m.Update(StartMsg{})
	if m.Notice() != "" {
		t.Errorf("notice after start = %q, want empty", m.Notice())
	}
}

func TestStatusText(t *testing.T) {
	m := New(&fakeUploader{}, fastOptions())
	if got := m.StatusText(); got != "No files selected" {
		t.Errorf("idle text = %q", got)
	}
	m, _ = m.Update(AddFilesMsg{Files: images(3)})
	if got := m.StatusText(); got != "3 files selected" {
		t.Errorf("selected text = %q", got)
	}
	m, _ = m.Update(StartMsg{})
	if got := m.StatusText(); got != "Uploading 3 images..." {
		t.Errorf("uploading text = %q", got)
	}
}
