package otel

import "testing"

func TestTraceFromEnv(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"1":     true,
		"true":  true,
		"keys":  true,
	}
	for v, want := range cases {
		if got := traceFromEnv(v); got != want {
			t.Errorf("traceFromEnv(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestSetTraceEnabledOverridesEnv(t *testing.T) {
	orig := TraceEnabled()
	defer SetTraceEnabled(orig)

	t.Setenv("LOOKALIKE_TRACE", "")
	SetTraceEnabled(true)
	if !TraceEnabled() {
		t.Error("SetTraceEnabled(true) should win over an empty LOOKALIKE_TRACE")
	}
	SetTraceEnabled(false)
	if TraceEnabled() {
		t.Error("SetTraceEnabled(false) should turn tracing off")
	}
}
