package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/abelbrown/lookalike/internal/upload"
)

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload JPG/PNG files or folders in batches of up to 50",
		Long: `Upload images to the backend in sequential batches of up to 50 files.

Unsupported files are skipped with a warning. Press Ctrl+C to stop before
the next batch; batches already sent stay uploaded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session
			if cmd.Flags().Changed("recursive") {
				s.Config.Upload.Recursive = recursive
			}

			files, errs := s.Resolve(args)
			for _, err := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}

			m := upload.New(s.Client, s.UploadOptions())
			m, _ = m.Update(upload.AddFilesMsg{Files: files})
			if n := m.Notice(); n != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", n)
			}
			if m.Len() == 0 {
				return fmt.Errorf("no JPG or PNG files to upload")
			}

			summary, err := runUpload(m, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return reportUpload(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	return cmd
}

// runUpload drives m through one run inside a Bubble Tea program. When out
// is not a terminal the program runs without a renderer and prints one line
// per committed batch.
func runUpload(m upload.Model, out io.Writer) (upload.Summary, error) {
	plain := !isTerminal(out)
	r := newUploadRunner(m, out, plain)

	popts := []tea.ProgramOption{tea.WithOutput(out), tea.WithoutSignalHandler()}
	if plain {
		popts = append(popts, tea.WithoutRenderer(), tea.WithInput(nil))
	}
	program := tea.NewProgram(r, popts...)

	// Interrupts cancel the run; the program exits on the resulting FinishedMsg.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sig:
			program.Send(upload.CancelMsg{})
		case <-done:
		}
	}()

	final, err := program.Run()
	if err != nil {
		return upload.Summary{}, fmt.Errorf("upload: %w", err)
	}
	fr := final.(uploadRunner)
	if !fr.finished {
		return upload.Summary{}, fmt.Errorf("upload: stopped before the run finished")
	}
	return fr.summary, nil
}

func reportUpload(out io.Writer, s upload.Summary) error {
	elapsed := s.Elapsed.Round(10 * time.Millisecond)
	switch s.Outcome {
	case upload.OutcomeSuccess:
		fmt.Fprintf(out, "Uploaded %d images in %d batches (%s)\n", s.Committed, s.Chunks, elapsed)
		return nil
	case upload.OutcomeCancelled:
		fmt.Fprintf(out, "%s %d of %d images were uploaded before stopping.\n", upload.CancelNotice, s.Committed, s.Total)
		return exitError{code: 130}
	default:
		fmt.Fprintf(out, "%s\n", upload.FailureNotice)
		fmt.Fprintf(out, "%d of %d images were uploaded before the failure: %v\n", s.Committed, s.Total, s.Err)
		return exitError{code: 1}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// uploadRunner hosts an upload.Model as a standalone program.
type uploadRunner struct {
	m        upload.Model
	bar      progress.Model
	out      io.Writer
	plain    bool
	printed  int // last Processed value reported in plain mode
	finished bool
	summary  upload.Summary
}

func newUploadRunner(m upload.Model, out io.Writer, plain bool) uploadRunner {
	return uploadRunner{
		m:     m,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		out:   out,
		plain: plain,
	}
}

func (r uploadRunner) Init() tea.Cmd {
	return func() tea.Msg { return upload.StartMsg{} }
}

func (r uploadRunner) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			var cmd tea.Cmd
			r.m, cmd = r.m.Update(upload.CancelMsg{})
			return r, cmd
		}
		return r, nil

	case tea.WindowSizeMsg:
		r.bar.Width = max(10, min(msg.Width-4, 60))
		return r, nil

	case upload.FinishedMsg:
		r.finished = true
		r.summary = msg.Summary
		return r, tea.Quit
	}

	var cmd tea.Cmd
	r.m, cmd = r.m.Update(msg)

	if r.plain && r.m.Status() == upload.StatusUploading {
		if p := r.m.Progress(); p.Processed != r.printed {
			r.printed = p.Processed
			fmt.Fprintln(r.out, r.m.StatusText())
		}
	}
	return r, cmd
}

func (r uploadRunner) View() string {
	if r.finished || r.m.Status() == upload.StatusIdle {
		return ""
	}
	var b strings.Builder
	for i, step := range upload.Steps {
		if i > 0 {
			b.WriteString(" > ")
		}
		switch upload.StepStatus(r.m.Stage(), step) {
		case upload.StepCompleted:
			b.WriteString("[x] ")
		case upload.StepActive:
			b.WriteString("[*] ")
		default:
			b.WriteString("[ ] ")
		}
		b.WriteString(step.Label())
	}
	b.WriteString("\n")
	b.WriteString(r.bar.ViewAs(r.m.Progress().Ratio()))
	b.WriteString("\n")
	b.WriteString(r.m.StatusText())
	b.WriteString("  (ctrl+c to stop)\n")
	return b.String()
}
