package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("LOOKALIKE_CONFIG", "")
	t.Setenv("LOOKALIKE_API_URL", "")
	t.Setenv("LOOKALIKE_TIMEOUT", "")
	t.Setenv("LOOKALIKE_RATE_LIMIT", "")
	t.Setenv("LOOKALIKE_LOG_LEVEL", "")
	t.Setenv("LOOKALIKE_DATA_DIR", filepath.Join(dir, "data"))
	t.Chdir(dir)
	return dir
}

func TestOpenCreatesDataFiles(t *testing.T) {
	dir := isolate(t)

	s, err := Open("test", Overrides{APIURL: "http://backend:9000"})
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", s.Client.BaseURL())
	require.NotNil(t, s.Journal)
	require.NotNil(t, s.Ring)

	uo := s.UploadOptions()
	assert.Equal(t, 50, uo.ChunkSize)
	assert.NotNil(t, uo.Recorder)
	assert.Equal(t, 5, s.SearchOptions().TopK)

	s.Close()

	_, err = os.Stat(filepath.Join(dir, "data", "journal.db"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "data", "events.jsonl"))
	assert.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(dir, "data", "logs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenRejectsBadOverride(t *testing.T) {
	isolate(t)

	_, err := Open("test", Overrides{APIURL: "ftp://nope"})
	assert.Error(t, err)

	_, err = Open("test", Overrides{LogLevel: "loud"})
	assert.Error(t, err)
}

func TestOptionsWithoutJournal(t *testing.T) {
	isolate(t)

	s, err := Open("test", Overrides{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Journal.Close())
	s.Journal = nil

	assert.Nil(t, s.UploadOptions().Recorder)
	assert.Nil(t, s.SearchOptions().Recorder)
}

func TestResolveUsesRecursion(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "imgs", "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "imgs", "a.jpg"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "imgs", "sub", "b.png"), []byte("b"), 0644))

	s, err := Open("test", Overrides{})
	require.NoError(t, err)
	defer s.Close()

	files, errs := s.Resolve([]string{filepath.Join(dir, "imgs")})
	assert.Empty(t, errs)
	assert.Len(t, files, 1)

	s.Config.Upload.Recursive = true
	files, _ = s.Resolve([]string{filepath.Join(dir, "imgs")})
	assert.Len(t, files, 2)
}
