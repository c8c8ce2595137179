// Package otel records structured events for lookalike.
//
// Events are typed structs serialized as JSONL lines. The Logger writes them
// asynchronously through a buffered channel. An optional RingBuffer keeps the
// most recent events in memory for the TUI debug overlay.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Intake events
	KindIntakeAccept EventKind = "intake.accept"
	KindIntakeReject EventKind = "intake.reject"

	// Upload run events
	KindUploadStart    EventKind = "upload.start"
	KindUploadChunk    EventKind = "upload.chunk"
	KindUploadStage    EventKind = "upload.stage"
	KindUploadComplete EventKind = "upload.complete"
	KindUploadError    EventKind = "upload.error"
	KindUploadCancel   EventKind = "upload.cancel"
	KindUploadSettle   EventKind = "upload.settle"
	KindUploadStale    EventKind = "upload.stale"

	// Search events
	KindSearchStart    EventKind = "search.start"
	KindSearchComplete EventKind = "search.complete"
	KindSearchError    EventKind = "search.error"
	KindSearchStale    EventKind = "search.stale"

	// Remote API events
	KindAPIRequest EventKind = "api.request"
	KindAPIError   EventKind = "api.error"

	// UI events
	KindKeyPress EventKind = "ui.key"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal record. Every field except Kind and Time is
// optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // "upload", "search", "api", "ui", "main"
	SessionID string         `json:"session_id,omitempty"` // random hex, same for entire process
	RunID     string         `json:"run,omitempty"`        // upload run correlation ID
	QueryID   string         `json:"qid,omitempty"`        // search correlation ID
	Dur       time.Duration  `json:"-"`
	DurMs     float64        `json:"dur_ms,omitempty"` // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Total     int            `json:"total,omitempty"`
	Chunk     int            `json:"chunk,omitempty"` // 1-based chunk number
	Stage     int            `json:"stage,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// MarshalJSON converts Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	a := struct {
		alias
	}{alias: alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
