package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	expect "github.com/Netflix/go-expect"
	"github.com/creack/pty"
)

// buildLookalike builds the lookalike binary for testing.
func buildLookalike(t *testing.T) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), "lookalike")

	rootDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	// Assume we are in test/e2e, go up 2 levels
	rootDir = filepath.Join(rootDir, "..", "..")

	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/lookalike")
	cmd.Dir = rootDir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build failed: %v\n%s", err, out)
	}
	return binPath
}

func TestE2E_UploadAndSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("builds and drives the TUI binary")
	}
	binPath := buildLookalike(t)
	backend := newBackendFixture(t)

	homeDir := t.TempDir()
	imgDir, err := seedImages(homeDir, 3)
	if err != nil {
		t.Fatalf("failed to seed images: %v", err)
	}
	cfgPath, err := writeConfig(homeDir, backend.srv.URL)
	if err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cmd := exec.Command(binPath, "--config", cfgPath)
	// The pty never answers OSC 11 or DSR queries. A screen TERM makes
	// termenv skip them; COLORFGBG supplies the background instead.
	cmd.Env = append(os.Environ(), "HOME="+homeDir, "LOOKALIKE_API_URL=", "LOOKALIKE_DATA_DIR=",
		"TERM=screen-256color", "COLORFGBG=15;0")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		t.Fatalf("failed to start pty: %v", err)
	}
	defer func() {
		_ = ptmx.Close()
		_ = cmd.Process.Kill()
	}()
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: 120, Rows: 40}); err != nil {
		t.Fatalf("failed to set pty size: %v", err)
	}

	var outputBuf bytes.Buffer
	console, err := expect.NewConsole(
		expect.WithStdin(ptmx),
		expect.WithStdout(&outputBuf),
		expect.WithDefaultTimeout(10*time.Second),
	)
	if err != nil {
		t.Fatalf("failed to create console: %v", err)
	}
	defer console.Close()

	step := func(what string, send string, want string) {
		t.Helper()
		if send != "" {
			if _, err := console.Send(send); err != nil {
				t.Fatalf("%s: send failed: %v", what, err)
			}
		}
		if want == "" {
			return
		}
		if _, err := console.ExpectString(want); err != nil {
			if logs, rerr := os.ReadFile(filepath.Join(homeDir, "data", "events.jsonl")); rerr == nil {
				t.Logf("events.jsonl:\n%s", logs)
			}
			t.Fatalf("%s: %q not found: %v\nOutput buffer:\n%s", what, want, err, outputBuf.String())
		}
	}

	step("startup", "", "No files selected")
	time.Sleep(300 * time.Millisecond) // Allow UI to stabilize

	step("open add prompt", "a", "paths to JPG/PNG")
	step("add folder", imgDir+"\r", "3 files selected")
	step("skipped notice", "", "Some files were skipped")

	step("start upload", "u", "Uploaded 3 images")
	if got := backend.uploaded(); !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("backend batches = %v, want [3]", got)
	}

	step("search tab", "2", "No query image")
	step("open query prompt", "/", "query image")
	step("choose query", filepath.Join(imgDir, "photo0.jpg")+"\r", "Query:")
	step("run search", "\r", "Found 2 matches")
	step("results in order", "", "fixture-far.jpg")

	t.Log("Sending 'q'...")
	step("quit", "q", "")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Error("Process did not exit after 'q'")
	}
}
