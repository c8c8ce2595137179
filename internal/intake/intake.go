// Package intake validates and accumulates candidate image files for upload.
//
// Intake keeps files in arrival order and never deduplicates. Files with an
// unsupported MIME type are dropped and a standing notice is raised; the rest
// of the batch is kept.
package intake

import (
	"io"
	"os"
)

// SkippedNotice is shown while the last Accept dropped at least one file.
const SkippedNotice = "Some files were skipped. Only JPG and PNG allowed."

// allowedTypes is the set of MIME types the ingestion endpoint accepts.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/jpg":  true,
}

// Opener returns a fresh reader over a file's bytes. Called once per upload
// attempt; the caller closes the reader.
type Opener func() (io.ReadCloser, error)

// CandidateFile is one file selected for upload. Name is the bare file name
// sent to the backend; Path is the local location and is never sent.
type CandidateFile struct {
	Name     string
	Path     string
	Size     int64
	MIMEType string
	Open     Opener
}

// Allowed reports whether mimeType can be uploaded.
func Allowed(mimeType string) bool {
	return allowedTypes[mimeType]
}

// FileOpener returns an Opener reading path from disk.
func FileOpener(path string) Opener {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// Intake accumulates accepted files. The zero value is ready to use.
type Intake struct {
	files  []CandidateFile
	notice string
}

// Accept appends every allowed file in raw to the list, preserving order.
// If any file is rejected the skipped notice is set, otherwise it is cleared.
func (in *Intake) Accept(raw []CandidateFile) (accepted, rejected int) {
	// Full slice expression forces a copy so earlier model values keep their list.
	next := in.files[:len(in.files):len(in.files)]
	for _, f := range raw {
		if !Allowed(f.MIMEType) {
			rejected++
			continue
		}
		next = append(next, f)
		accepted++
	}
	in.files = next

	if rejected > 0 {
		in.notice = SkippedNotice
	} else {
		in.notice = ""
	}
	return accepted, rejected
}

// Remove deletes the file at index i. Out-of-range indexes are ignored.
func (in *Intake) Remove(i int) {
	if i < 0 || i >= len(in.files) {
		return
	}
	next := make([]CandidateFile, 0, len(in.files)-1)
	next = append(next, in.files[:i]...)
	next = append(next, in.files[i+1:]...)
	in.files = next
}

// Clear empties the list and clears the notice.
func (in *Intake) Clear() {
	in.files = nil
	in.notice = ""
}

// Files returns a copy of the accepted files in arrival order.
func (in Intake) Files() []CandidateFile {
	out := make([]CandidateFile, len(in.files))
	copy(out, in.files)
	return out
}

// Len returns the number of accepted files.
func (in Intake) Len() int {
	return len(in.files)
}

// Notice returns the standing intake notice, or "" if none.
func (in Intake) Notice() string {
	return in.notice
}

// TotalSize returns the sum of accepted file sizes in bytes.
func (in Intake) TotalSize() int64 {
	var n int64
	for _, f := range in.files {
		n += f.Size
	}
	return n
}

// DismissNotice clears the standing notice without touching the list.
func (in *Intake) DismissNotice() {
	in.notice = ""
}
