package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// backendFixture is a deterministic stand-in for the similarity backend.
type backendFixture struct {
	mu      sync.Mutex
	batches []int
	srv     *httptest.Server
}

func newBackendFixture(t *testing.T) *backendFixture {
	t.Helper()
	b := &backendFixture{}

	mux := http.NewServeMux()
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.batches = append(b.batches, len(r.MultipartForm.File["files"]))
		b.mu.Unlock()
		fmt.Fprint(w, `{"message":"ok","uploaded":[]}`)
	})
	mux.HandleFunc("/search/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[
			{"image_id":1,"url":"/images/fixture-near.jpg","score":0.05,"filename":"fixture-near.jpg"},
			{"image_id":2,"url":"/images/fixture-far.jpg","score":1.5,"filename":"fixture-far.jpg"}]}`)
	})
	mux.HandleFunc("/upload/history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/search/history", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/dashboard/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_images": 3, "total_searches": 1, "system_status": "operational", "recent_activity": []any{},
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"running","database":"OK","redis":"OK"}`)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backendFixture) uploaded() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.batches))
	copy(out, b.batches)
	return out
}

// seedImages writes n small files with image extensions plus one PDF.
func seedImages(dir string, n int) (string, error) {
	imgDir := filepath.Join(dir, "imgs")
	if err := os.MkdirAll(imgDir, 0755); err != nil {
		return "", err
	}
	for i := 0; i < n; i++ {
		name := filepath.Join(imgDir, fmt.Sprintf("photo%d.jpg", i))
		if err := os.WriteFile(name, []byte("jpeg"), 0644); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(filepath.Join(imgDir, "notes.pdf"), []byte("pdf"), 0644); err != nil {
		return "", err
	}
	return imgDir, nil
}

// writeConfig disables the cosmetic delays so the run finishes quickly.
func writeConfig(dir, apiURL string) (string, error) {
	path := filepath.Join(dir, "lookalike.yaml")
	cfg := fmt.Sprintf(`api:
  baseURL: %s
  timeout: 10s
upload:
  chunkSize: 50
  stageRevealDelay: 50ms
  settleDelay: 3s
ui:
  altScreen: false
dataDir: %s
`, apiURL, filepath.Join(dir, "data"))
	return path, os.WriteFile(path, []byte(cfg), 0644)
}
