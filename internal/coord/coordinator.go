// Package coord gathers the remote and local data the history and dashboard
// views show, and keeps the dashboard fresh in the background.
package coord

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/journal"
	"github.com/abelbrown/lookalike/internal/logging"
	"github.com/abelbrown/lookalike/internal/ui"
)

// refreshInterval is the time between background dashboard refreshes.
const refreshInterval = time.Minute

// loadTimeout bounds one history or dashboard load.
const loadTimeout = 30 * time.Second

// historyLimit matches the backend's default page size.
const historyLimit = 50

// runsLimit caps the local runs shown beside remote history.
const runsLimit = 50

// backend interface for dependency injection (testing).
type backend interface {
	UploadHistory(ctx context.Context, limit int) ([]api.UploadHistoryEntry, error)
	SearchHistory(ctx context.Context) ([]api.SearchHistoryEntry, error)
	DashboardStats(ctx context.Context) (*api.DashboardStats, error)
	Health(ctx context.Context) (*api.Health, error)
}

// runJournal is the read side of the local journal.
type runJournal interface {
	Runs(limit int) ([]journal.Run, error)
	Totals() (journal.Totals, error)
}

// Coordinator loads history and dashboard data.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	api     backend
	journal runJournal // optional: nil when no journal is open
	wg      sync.WaitGroup
}

// NewCoordinator creates a Coordinator over the real client.
// The journal is optional (nil to omit local runs).
func NewCoordinator(c *api.Client, j *journal.Journal) *Coordinator {
	var rj runJournal
	if j != nil {
		rj = j
	}
	return NewCoordinatorWith(c, rj)
}

// NewCoordinatorWith allows injecting a custom backend (for testing).
func NewCoordinatorWith(b backend, j runJournal) *Coordinator {
	return &Coordinator{api: b, journal: j}
}

// History fetches upload and search history concurrently. Either remote
// failure fails the load; a journal failure only drops the local runs.
func (c *Coordinator) History(ctx context.Context) ui.HistoryLoaded {
	var msg ui.HistoryLoaded
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		uploads, err := c.api.UploadHistory(gctx, historyLimit)
		msg.Uploads = uploads
		return err
	})
	g.Go(func() error {
		searches, err := c.api.SearchHistory(gctx)
		msg.Searches = searches
		return err
	})
	if c.journal != nil {
		g.Go(func() error {
			runs, err := c.journal.Runs(runsLimit)
			if err != nil {
				logging.Warn("Journal read failed", "error", err)
				return nil
			}
			msg.Runs = runs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logging.Error("History load failed", "error", err)
		return ui.HistoryLoaded{Err: err}
	}
	return msg
}

// Dashboard fetches stats, health and local totals concurrently. Stats and
// health fail independently so the health panel can report an outage while
// the stats call is the one that failed.
func (c *Coordinator) Dashboard(ctx context.Context) ui.DashboardLoaded {
	var msg ui.DashboardLoaded
	var g errgroup.Group

	g.Go(func() error {
		msg.Stats, msg.Err = c.api.DashboardStats(ctx)
		return nil
	})
	g.Go(func() error {
		msg.Health, msg.HealthErr = c.api.Health(ctx)
		return nil
	})
	if c.journal != nil {
		g.Go(func() error {
			totals, err := c.journal.Totals()
			if err != nil {
				logging.Warn("Journal read failed", "error", err)
				return nil
			}
			msg.Totals = &totals
			return nil
		})
	}

	_ = g.Wait() // every goroutine reports through msg

	if msg.Err != nil {
		logging.Warn("Dashboard stats unavailable", "error", msg.Err)
	}
	if msg.HealthErr != nil {
		logging.Warn("Health check failed", "error", msg.HealthErr)
	}
	return msg
}

// LoadHistory returns a command that runs History with a timeout.
func (c *Coordinator) LoadHistory() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return c.History(ctx)
	}
}

// LoadDashboard returns a command that runs Dashboard with a timeout.
func (c *Coordinator) LoadDashboard() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return c.Dashboard(ctx)
	}
}

// Start refreshes the dashboard every minute until ctx is cancelled.
// The first refresh happens after one interval; the UI loads on Init.
func (c *Coordinator) Start(ctx context.Context, program *tea.Program) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refresh(ctx, program)
			}
		}
	}()
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) refresh(ctx context.Context, program *tea.Program) {
	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	msg := c.Dashboard(loadCtx)
	if ctx.Err() != nil {
		return
	}
	// Handle nil program gracefully for testing
	if program != nil {
		program.Send(msg)
	}
}
