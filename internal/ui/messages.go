// Package ui provides the Bubble Tea TUI for lookalike.
package ui

import (
	"github.com/abelbrown/lookalike/internal/api"
	"github.com/abelbrown/lookalike/internal/journal"
)

// HistoryLoaded is sent when the history tab's data arrives.
type HistoryLoaded struct {
	Uploads  []api.UploadHistoryEntry
	Searches []api.SearchHistoryEntry
	Runs     []journal.Run // local journal; nil when no journal is open
	Err      error
}

// DashboardLoaded is sent when dashboard stats and health arrive.
// Stats and health are fetched independently; either may fail alone.
type DashboardLoaded struct {
	Stats     *api.DashboardStats
	Health    *api.Health
	Totals    *journal.Totals
	Err       error
	HealthErr error
}
