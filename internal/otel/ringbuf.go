package otel

import (
	"strings"
	"sync"
)

// DefaultRingSize is the default ring buffer capacity.
const DefaultRingSize = 512

// RingBuffer is a fixed-size circular buffer of Events. Goroutine-safe.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []Event
	size  int
	head  int // next write position
	count int // valid entries (0..size)
}

// NewRingBuffer creates a ring buffer with the given capacity.
// A non-positive size selects DefaultRingSize.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{
		buf:  make([]Event, size),
		size: size,
	}
}

// Push adds an event, overwriting the oldest if full.
// The Extra map is copied so callers may reuse theirs.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		cp := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			cp[k] = v
		}
		e.Extra = cp
	}
	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.mu.Unlock()
}

// Snapshot returns all buffered events, oldest first.
func (r *RingBuffer) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(r.count)
}

// Last returns the n most recent events, oldest first.
// Returns nil for n <= 0 or an empty buffer.
func (r *RingBuffer) Last(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(n)
}

func (r *RingBuffer) lastLocked(n int) []Event {
	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]Event, n)
	start := (r.head - n + r.size) % r.size
	if start+n <= r.size {
		copy(out, r.buf[start:start+n])
	} else {
		first := copy(out, r.buf[start:])
		copy(out[first:], r.buf[:n-first])
	}
	return out
}

// ForRun returns the buffered events tagged with runID, oldest first.
func (r *RingBuffer) ForRun(runID string) []Event {
	if runID == "" {
		return nil
	}
	var out []Event
	for _, e := range r.Snapshot() {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the buffer capacity.
func (r *RingBuffer) Cap() int {
	return r.size
}

// Stats counts buffered events by kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	counts := make(map[EventKind]int)
	for _, e := range r.Snapshot() {
		counts[e.Kind]++
	}
	return counts
}

// CountPrefix counts buffered events whose kind starts with prefix,
// e.g. "upload." or "search.".
func (r *RingBuffer) CountPrefix(prefix string) int {
	n := 0
	for _, e := range r.Snapshot() {
		if strings.HasPrefix(string(e.Kind), prefix) {
			n++
		}
	}
	return n
}
