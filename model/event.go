package model

import (
	"math"
	"time"
)

// Phase is the lifecycle point of a test attempt an event was emitted for.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseCall     Phase = "call"
	PhaseTeardown Phase = "teardown"
)

// Event is one runner-reported outcome of a test lifecycle phase. Runners
// emit these serially, in the order phases complete.
type Event struct {
	// Fully qualified node id, e.g. "tests/test_api.py::TestLogin::test_ok[1]"
	NodeID string `json:"nodeid"`
	// Lifecycle phase
	Phase Phase `json:"when"`
	// Runner-reported outcome of the phase
	Outcome TestStatus `json:"outcome"`
	// Set when the test carried an expected failure and executed anyway.
	// Runners report such attempts with outcome "failed" (or "passed" for an
	// unexpected pass).
	ExpectedFailure bool `json:"expectedFailure,omitempty"`
	// Runner text for a dynamically raised expected failure
	ExpectedFailureReason string `json:"expectedFailureReason,omitempty"`
	// Phase duration in seconds
	DurationSeconds float64 `json:"duration"`
	// Declaration site of the test
	Location *RawLocation `json:"location,omitempty"`
	// Failure detail, nil when the runner supplied none
	Failure *Failure `json:"failure,omitempty"`
	// Runner text for a skip raised during execution
	SkipReason string `json:"skipReason,omitempty"`
	// Metadata markers attached to the test
	Markers []Marker `json:"markers,omitempty"`
	// Captured output
	Stdout []string `json:"stdout,omitempty"`
	Stderr []string `json:"stderr,omitempty"`
}

// Duration returns the phase duration, never negative.
func (e Event) Duration() time.Duration {
	if e.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(math.Round(e.DurationSeconds * float64(time.Second)))
}

// RawLocation is a runner-native location: path relative to the run root or
// absolute, with a 0-based line.
type RawLocation struct {
	Path   string `json:"path"`
	Line   *int   `json:"line,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// Marker is a piece of test metadata, e.g. a decorator or build tag.
type Marker struct {
	Name   string         `json:"name"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Failure is the runner-specific representation of a failed phase.
type Failure struct {
	// Textual rendering of the whole failure
	Text string `json:"text"`
	// The runner supplied nothing but a string
	Plain bool `json:"plain,omitempty"`
	// Structured crash location, when available
	Crash *Crash `json:"crash,omitempty"`
	// Structured traceback, outermost frame first
	Traceback []TracebackEntry `json:"traceback,omitempty"`
}

// Crash is the innermost failure site.
type Crash struct {
	Path    string `json:"path"`
	Line    *int   `json:"line,omitempty"` // 0-based
	Message string `json:"message,omitempty"`
}

// TracebackEntry is one frame of a structured traceback.
type TracebackEntry struct {
	// Source lines shown for this frame
	Lines []string `json:"lines,omitempty"`
}
