package otel

// Goroutine safety:
// The drain goroutine is the only reader of l.ch and the only writer to l.w.
// Logger.mu guards the ring pointer. The ring has its own lock, and drain
// releases Logger.mu before pushing, so locks never nest.

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// queueSize is the capacity of the async write channel.
const queueSize = 2048

type logEntry struct {
	data []byte
	ev   Event
}

// Logger serializes events as JSONL via a background writer.
// A nil *Logger is valid and discards everything, so components can take one
// as an optional dependency.
type Logger struct {
	mu        sync.Mutex
	ring      *RingBuffer
	sessionID string
	ch        chan logEntry
	w         io.Writer
	closer    io.Closer // non-nil when the Logger owns the file
	dropped   atomic.Uint64
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogger creates a Logger writing JSONL to w asynchronously.
// Call Close to flush and stop the drain goroutine.
func NewLogger(w io.Writer) *Logger {
	var sid [8]byte
	_, _ = rand.Read(sid[:])

	l := &Logger{
		sessionID: fmt.Sprintf("%x", sid[:]),
		ch:        make(chan logEntry, queueSize),
		w:         w,
		done:      make(chan struct{}),
	}
	go l.drain()
	return l
}

// OpenFile appends events to the JSONL file at path, creating parent
// directories as needed. Close also closes the file.
func OpenFile(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("otel: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("otel: open event log: %w", err)
	}
	l := NewLogger(f)
	l.closer = f
	return l, nil
}

// NewNullLogger creates a Logger that discards output.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

func (l *Logger) drain() {
	defer close(l.done)
	for entry := range l.ch {
		if _, err := l.w.Write(entry.data); err != nil {
			l.dropped.Add(1)
		}

		l.mu.Lock()
		ring := l.ring
		l.mu.Unlock()

		if ring != nil {
			ring.Push(entry.ev)
		}
	}
}

// Emit queues an event. Sets Time (if zero) and SessionID. Never blocks: if
// the queue is full or the logger is closed the event is counted as dropped.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	// Close may win the race between the closed check and the send.
	defer func() {
		if recover() != nil {
			l.dropped.Add(1)
		}
	}()

	if l.closed.Load() {
		l.dropped.Add(1)
		return
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = l.sessionID

	data, err := json.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	data = append(data, '\n')

	select {
	case l.ch <- logEntry{data: data, ev: e}:
	default:
		l.dropped.Add(1)
	}
}

// Info emits an info-level event.
func (l *Logger) Info(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, Msg: msg})
}

// Warn emits a warn-level event.
func (l *Logger) Warn(kind EventKind, comp, msg string) {
	l.Emit(Event{Level: LevelWarn, Kind: kind, Comp: comp, Msg: msg})
}

// Error emits an error-level event. A nil err is logged as "".
func (l *Logger) Error(kind EventKind, comp string, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	l.Emit(Event{Level: LevelError, Kind: kind, Comp: comp, Err: errStr})
}

// SetRingBuffer attaches a ring buffer for live inspection.
func (l *Logger) SetRingBuffer(ring *RingBuffer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = ring
}

// SessionID returns the random session identifier stamped on every event.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Dropped returns the number of events dropped since creation.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close flushes pending events and stops the drain goroutine. Idempotent.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		<-l.done

		if l.closer != nil {
			_ = l.closer.Close()
		}
		if d := l.dropped.Load(); d > 0 {
			fmt.Fprintf(os.Stderr, "lookalike: %d events dropped during session %s\n", d, l.sessionID)
		}
	})
}
