package intake

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// PathOptions controls how FromPaths expands directories.
type PathOptions struct {
	Recursive bool // descend into subdirectories
}

// FromPaths turns filesystem paths into candidate files. Directories are
// expanded in lexical order. The MIME type comes from the file extension, the
// same way a browser file picker labels files, so unsupported files survive
// here and are rejected by Accept.
//
// A path that cannot be read produces an error in errs and does not stop the
// remaining paths.
func FromPaths(paths []string, opts PathOptions) (files []CandidateFile, errs []error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("intake: %w", err))
			continue
		}
		if !info.IsDir() {
			files = append(files, candidate(p, info))
			continue
		}

		found, err := walkDir(p, opts.Recursive)
		if err != nil {
			errs = append(errs, fmt.Errorf("intake: walk %s: %w", p, err))
		}
		files = append(files, found...)
	}
	return files, errs
}

// walkDir lists regular files under dir in lexical order, skipping dotfiles.
func walkDir(dir string, recursive bool) ([]CandidateFile, error) {
	var out []CandidateFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, candidate(path, info))
		return nil
	})
	return out, err
}

func candidate(path string, info fs.FileInfo) CandidateFile {
	return CandidateFile{
		Name:     filepath.Base(path),
		Path:     path,
		Size:     info.Size(),
		MIMEType: MIMETypeOf(path),
		Open:     FileOpener(path),
	}
}

// MIMETypeOf returns the media type for path's extension without parameters,
// or "application/octet-stream" when the extension is unknown.
func MIMETypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}
