package otel

import (
	"os"
	"strconv"
	"sync/atomic"
)

// traceEnabled is read on the UI goroutine and written at startup.
var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(traceFromEnv(os.Getenv("LOOKALIKE_TRACE")))
}

// traceFromEnv interprets LOOKALIKE_TRACE. Boolean spellings such as "0" or
// "false" turn tracing off; any other non-empty value turns it on.
func traceFromEnv(v string) bool {
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return true
}

// TraceEnabled reports whether key tracing is on. When true the TUI records
// every key press as a ui.key event.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

// SetTraceEnabled overrides LOOKALIKE_TRACE (lookalike --trace).
func SetTraceEnabled(v bool) {
	traceEnabled.Store(v)
}
