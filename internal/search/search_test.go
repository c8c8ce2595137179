package search

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/intake"
)

type fakeSearcher struct {
	resp  *api.SearchResponse
	err   error
	calls int
	topK  []int
}

func (f *fakeSearcher) Search(ctx context.Context, query intake.CandidateFile, topK int) (*api.SearchResponse, error) {
	f.calls++
	f.topK = append(f.topK, topK)
	return f.resp, f.err
}

type fakeRecorder struct{ records []Record }

func (r *fakeRecorder) SearchFinished(rec Record) error {
	r.records = append(r.records, rec)
	return nil
}

var query = intake.CandidateFile{Name: "cat.jpg", MIMEType: "image/jpeg", Size: 10}

func TestSimilarityBoundsAndMonotonic(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0))
	assert.Equal(t, 0.5, Similarity(1))

	prev := math.Inf(1)
	for _, d := range []float64{0, 0.01, 0.5, 1, 2, 10, 1e6} {
		s := Similarity(d)
		assert.Greater(t, s, 0.0, "d=%v", d)
		assert.LessOrEqual(t, s, 1.0, "d=%v", d)
		assert.Less(t, s, prev, "not strictly decreasing at d=%v", d)
		prev = s
	}
}

func TestTransformPreservesOrder(t *testing.T) {
	// Deliberately not sorted by score: order must still be kept verbatim.
	in := []api.SearchResult{
		{ImageID: 1, Score: 0.2, Filename: "a.jpg"},
		{ImageID: 2, Score: 0.1, Filename: "b.jpg"},
		{ImageID: 3, Score: 0.9, Filename: "c.jpg"},
	}
	out := Transform(in)
	require.Len(t, out, 3)
	for i := range in {
		assert.Equal(t, in[i].ImageID, out[i].ImageID)
		assert.InDelta(t, 1/(1+in[i].Score), out[i].Similarity, 1e-12)
	}
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "0.42", FormatElapsed(420*time.Millisecond))
	assert.Equal(t, "1.00", FormatElapsed(time.Second))
	assert.Equal(t, "0.00", FormatElapsed(0))
	assert.Equal(t, "87%", Percent(0.8695))
}

func TestSearchWithoutQueryIsNoop(t *testing.T) {
	s := &fakeSearcher{}
	m := New(s, Options{})
	m, cmd := m.Update(SearchMsg{})
	assert.Nil(t, cmd)
	assert.False(t, m.Searching())
	assert.Equal(t, 0, s.calls)
}

func TestSearchSuccess(t *testing.T) {
	s := &fakeSearcher{resp: &api.SearchResponse{Results: []api.SearchResult{
		{ImageID: 10, Score: 0.1},
		{ImageID: 11, Score: 0.3},
		{ImageID: 12, Score: 0.7},
	}}}
	rec := &fakeRecorder{}
	m := New(s, Options{TopK: 10, Recorder: rec})
	m, _ = m.Update(SetQueryMsg{File: query})

	m, cmd := m.Update(SearchMsg{})
	require.NotNil(t, cmd)
	assert.True(t, m.Searching())

	m, record := m.Update(cmd())
	assert.False(t, m.Searching())
	require.NoError(t, m.Err())
	require.Len(t, m.Results(), 3)
	assert.Equal(t, int64(10), m.Results()[0].ImageID)
	assert.Equal(t, int64(12), m.Results()[2].ImageID)
	assert.Equal(t, []int{10}, s.topK)
	assert.Contains(t, m.Summary(), "Found 3 matches in ")

	// The journal write happens in the returned command, not in Update.
	assert.Empty(t, rec.records)
	require.NotNil(t, record)
	done := record()
	assert.Equal(t, RecordedMsg{QueryID: m.QueryID()}, done)
	m, _ = m.Update(done)
	require.Len(t, rec.records, 1)
	assert.Equal(t, "cat.jpg", rec.records[0].Filename)
	assert.Equal(t, 3, rec.records[0].Results)
}

type failingRecorder struct{}

func (failingRecorder) SearchFinished(Record) error { return errors.New("disk full") }

func TestRecordErrorDoesNotChangeResults(t *testing.T) {
	s := &fakeSearcher{resp: &api.SearchResponse{Results: []api.SearchResult{{ImageID: 1}}}}
	m := New(s, Options{Recorder: failingRecorder{}})
	m, _ = m.Update(SetQueryMsg{File: query})
	m, cmd := m.Update(SearchMsg{})
	m, record := m.Update(cmd())
	require.NotNil(t, record)

	done := record().(RecordedMsg)
	assert.EqualError(t, done.Err, "disk full")
	m, next := m.Update(done)
	assert.Nil(t, next)
	require.NoError(t, m.Err())
	assert.Len(t, m.Results(), 1)
}

func TestSearchWithoutRecorderReturnsNoCommand(t *testing.T) {
	s := &fakeSearcher{resp: &api.SearchResponse{}}
	m := New(s, Options{})
	m, _ = m.Update(SetQueryMsg{File: query})
	m, cmd := m.Update(SearchMsg{})
	_, record := m.Update(cmd())
	assert.Nil(t, record)
}

func TestSearchFailureClearsResults(t *testing.T) {
	s := &fakeSearcher{resp: &api.SearchResponse{Results: []api.SearchResult{{ImageID: 1}}}}
	m := New(s, Options{})
	m, _ = m.Update(SetQueryMsg{File: query})
	m, cmd := m.Update(SearchMsg{})
	m, _ = m.Update(cmd())
	require.Len(t, m.Results(), 1)

	s.resp, s.err = nil, errors.New("boom")
	m, cmd = m.Update(SearchMsg{})
	assert.Empty(t, m.Results(), "results cleared when a new search starts")
	m, _ = m.Update(cmd())

	assert.Empty(t, m.Results())
	assert.EqualError(t, m.Err(), "boom")
	assert.Empty(t, m.Summary())
}

func TestStaleResultIgnored(t *testing.T) {
	s := &fakeSearcher{resp: &api.SearchResponse{Results: []api.SearchResult{{ImageID: 1}}}}
	m := New(s, Options{})
	m, _ = m.Update(SetQueryMsg{File: query})

	m, first := m.Update(SearchMsg{})
	m, second := m.Update(SearchMsg{})

	old := first().(ResultMsg)
	old.Response = &api.SearchResponse{Results: []api.SearchResult{{ImageID: 99}, {ImageID: 98}}}
	m, _ = m.Update(old)
	assert.True(t, m.Searching(), "stale result must not finish the active search")
	assert.Empty(t, m.Results())

	m, _ = m.Update(second())
	require.Len(t, m.Results(), 1)
	assert.Equal(t, int64(1), m.Results()[0].ImageID)
}

func TestNewQueryDropsInFlightResult(t *testing.T) {
	s := &fakeSearcher{resp: &api.SearchResponse{Results: []api.SearchResult{{ImageID: 1}}}}
	m := New(s, Options{})
	m, _ = m.Update(SetQueryMsg{File: query})
	m, cmd := m.Update(SearchMsg{})

	m, _ = m.Update(SetQueryMsg{File: intake.CandidateFile{Name: "dog.png", MIMEType: "image/png"}})
	m, _ = m.Update(cmd())
	assert.Empty(t, m.Results())
	assert.False(t, m.Done())
}

func TestCycleTopK(t *testing.T) {
	m := New(&fakeSearcher{}, Options{})
	assert.Equal(t, 5, m.TopK())

	var seen []int
	for range TopKOptions {
		m, _ = m.Update(CycleTopKMsg{})
		seen = append(seen, m.TopK())
	}
	assert.Equal(t, []int{10, 20, 30, 40, 50, 5}, seen)

	m, _ = m.Update(SetTopKMsg{TopK: 7})
	m, _ = m.Update(CycleTopKMsg{})
	assert.Equal(t, 5, m.TopK(), "unknown value cycles back to the first option")
}
