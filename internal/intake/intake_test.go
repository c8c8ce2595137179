package intake

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(name, mimeType string) CandidateFile {
	return CandidateFile{Name: name, Size: 1024, MIMEType: mimeType}
}

func names(files []CandidateFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}

func TestAcceptMixedDropKeepsValidSubset(t *testing.T) {
	var in Intake

	accepted, rejected := in.Accept([]CandidateFile{
		file("a.jpg", "image/jpeg"),
		file("b.jpg", "image/jpeg"),
		file("report.pdf", "application/pdf"),
		file("c.jpg", "image/jpeg"),
		file("d.jpg", "image/jpeg"),
	})

	assert.Equal(t, 4, accepted)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 4, in.Len())
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}, names(in.Files()))
	assert.Equal(t, SkippedNotice, in.Notice())
}

func TestAcceptAppendsAndClearsNotice(t *testing.T) {
	var in Intake
	in.Accept([]CandidateFile{file("x.gif", "image/gif"), file("a.png", "image/png")})
	require.Equal(t, SkippedNotice, in.Notice())

	in.Accept([]CandidateFile{file("b.jpg", "image/jpg"), file("a.png", "image/png")})

	assert.Empty(t, in.Notice())
	// No deduplication: a.png appears twice.
	assert.Equal(t, []string{"a.png", "b.jpg", "a.png"}, names(in.Files()))
}

func TestAcceptDoesNotAliasEarlierCopies(t *testing.T) {
	var in Intake
	in.Accept([]CandidateFile{file("a.png", "image/png")})
	before := in

	in.Accept([]CandidateFile{file("b.png", "image/png")})

	assert.Equal(t, 1, before.Len())
	assert.Equal(t, 2, in.Len())
}

func TestRemove(t *testing.T) {
	var in Intake
	in.Accept([]CandidateFile{
		file("a.png", "image/png"),
		file("b.png", "image/png"),
		file("c.png", "image/png"),
	})

	in.Remove(1)
	assert.Equal(t, []string{"a.png", "c.png"}, names(in.Files()))

	in.Remove(-1)
	in.Remove(2)
	assert.Equal(t, []string{"a.png", "c.png"}, names(in.Files()))
}

func TestClear(t *testing.T) {
	var in Intake
	in.Accept([]CandidateFile{file("a.png", "image/png"), file("b.txt", "text/plain")})

	in.Clear()

	assert.Zero(t, in.Len())
	assert.Empty(t, in.Notice())
}

func TestFilesReturnsCopy(t *testing.T) {
	var in Intake
	in.Accept([]CandidateFile{file("a.png", "image/png")})

	got := in.Files()
	got[0].Name = "mutated"

	assert.Equal(t, "a.png", in.Files()[0].Name)
}

func TestMIMETypeOf(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":  "image/jpeg",
		"PHOTO.JPEG": "image/jpeg",
		"icon.png":   "image/png",
		"doc.pdf":    "application/pdf",
		"noext":      "application/octet-stream",
	}
	for path, want := range cases {
		assert.Equal(t, want, MIMETypeOf(path), path)
	}
}

func TestFromPaths(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) string {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
		return p
	}
	a := write("a.jpg")
	write("b.png")
	write(".hidden.png")
	write("nested/c.png")

	files, errs := FromPaths([]string{dir, a, filepath.Join(dir, "missing.png")}, PathOptions{})

	require.Len(t, errs, 1)
	assert.Equal(t, []string{"a.jpg", "b.png", "a.jpg"}, names(files))
	assert.Equal(t, filepath.Join(dir, "b.png"), files[1].Path)
	assert.Equal(t, a, files[2].Path)
	assert.Equal(t, int64(4), files[0].Size)
	assert.Equal(t, "image/png", files[1].MIMEType)

	rc, err := files[0].Open()
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

func TestFromPathsRecursive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.png"), []byte("x"), 0o644))

	files, errs := FromPaths([]string{dir}, PathOptions{Recursive: true})

	require.Empty(t, errs)
	assert.Equal(t, []string{"c.png"}, names(files))
	assert.Equal(t, filepath.Join(dir, "sub", "c.png"), files[0].Path)
}
