// Package reporter folds a stream of runner events into a single run report.
//
// A Reporter is created when the run starts, receives one event per
// lifecycle phase from a single goroutine, and is finalized exactly once.
package reporter

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/perfgo/flakiness/gitpath"
	"github.com/perfgo/flakiness/model"
	"github.com/rs/zerolog"
)

// ErrFinalized is returned when the reporter is used after Finalize.
var ErrFinalized = errors.New("report already finalized")

// Options configures a Reporter.
type Options struct {
	// Runner identifier written as the report category
	Category string
	CommitID string
	// Optional project identifier
	Project string
	// Maps runner paths onto the repository; locations are omitted when nil
	Paths *gitpath.Normalizer
	// Prefix of environment variables copied into the environment metadata
	EnvPrefix string

	// Test hooks
	Now     func() time.Time
	Environ func() []string
}

// Reporter is the event aggregator. It is not safe for concurrent use.
type Reporter struct {
	logger zerolog.Logger
	opts   Options

	startTime model.UnixMillis
	tests     map[string]*model.Test
	order     []string
	finalized bool
}

// New creates a Reporter and records the run start time.
func New(logger zerolog.Logger, opts Options) *Reporter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Environ == nil {
		opts.Environ = defaultEnviron
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = DefaultEnvPrefix
	}
	r := &Reporter{
		logger: logger,
		opts:   opts,
		tests:  make(map[string]*model.Test),
	}
	r.startTime = r.nowMillis()
	return r
}

func (r *Reporter) nowMillis() model.UnixMillis {
	return model.UnixMillis(r.opts.Now().UnixMilli())
}

// StartTime returns the run start time.
func (r *Reporter) StartTime() model.UnixMillis {
	return r.startTime
}

// Len returns the number of distinct tests seen so far.
func (r *Reporter) Len() int {
	return len(r.order)
}

// RecordOutcome folds one lifecycle event into the report. Teardown events
// and setup events that did not fail are ignored.
func (r *Reporter) RecordOutcome(ev model.Event) error {
	if r.finalized {
		return ErrFinalized
	}
	if !qualifies(ev) {
		return nil
	}
	if ev.NodeID == "" {
		r.logger.Warn().Str("phase", string(ev.Phase)).Msg("Ignoring event without node id")
		return nil
	}

	status := ev.Outcome
	if !status.Valid() {
		r.logger.Warn().
			Str("test", ev.NodeID).
			Str("outcome", string(ev.Outcome)).
			Msg("Unknown outcome, recording as failed")
		status = model.StatusFailed
	}

	duration := ev.Duration()
	durationMs := model.DurationMillis(duration.Milliseconds())
	start := r.nowMillis() - model.UnixMillis(durationMs)

	_, markerAnnotations := partitionMarkers(ev.Markers)
	annotations := append(statusAnnotations(ev), markerAnnotations...)

	attempt := &model.Attempt{
		EnvironmentIdx: 0,
		Status:         status,
		ExpectedStatus: expectedStatus(ev),
		StartTimestamp: start,
		Duration:       durationMs,
		Errors:         []model.ReportError{},
		Stdout:         stdio(ev.Stdout),
		Stderr:         stdio(ev.Stderr),
		Annotations:    annotations,
	}

	if status == model.StatusFailed {
		if e := r.extractError(ev.Failure); e != nil {
			attempt.Errors = append(attempt.Errors, *e)
		}
	}

	test := r.testFor(ev)
	test.Attempts = append(test.Attempts, attempt)

	r.logger.Debug().
		Str("test", ev.NodeID).
		Str("phase", string(ev.Phase)).
		Str("status", string(attempt.Status)).
		Str("expected", string(attempt.ExpectedStatus)).
		Int("attempt", len(test.Attempts)).
		Msg("Recorded attempt")

	return nil
}

// testFor returns the record for ev.NodeID, creating it on first sight.
func (r *Reporter) testFor(ev model.Event) *model.Test {
	test, ok := r.tests[ev.NodeID]
	if !ok {
		test = &model.Test{
			Title:    parseTitle(ev.NodeID),
			Attempts: []*model.Attempt{},
			Tags:     []string{},
		}
		r.tests[ev.NodeID] = test
		r.order = append(r.order, ev.NodeID)
	}

	if test.Location == nil && ev.Location != nil && ev.Location.Line != nil && r.opts.Paths != nil {
		test.Location = r.opts.Paths.Location(ev.Location.Path, *ev.Location.Line)
	}

	tags, _ := partitionMarkers(ev.Markers)
	test.Tags = mergeTags(test.Tags, tags)

	return test
}

// Finalize closes the aggregation and returns the report. It may be called
// once.
func (r *Reporter) Finalize() (*model.Report, error) {
	if r.finalized {
		return nil, ErrFinalized
	}
	r.finalized = true

	end := r.nowMillis()
	duration := model.DurationMillis(end - r.startTime)
	if duration < 0 {
		duration = 0
	}

	tests := make([]*model.Test, 0, len(r.order))
	for _, id := range r.order {
		tests = append(tests, r.tests[id])
	}

	category := r.opts.Category
	rep := &model.Report{
		Category:         category,
		CommitID:         r.opts.CommitID,
		FlakinessProject: r.opts.Project,
		StartTimestamp:   r.startTime,
		Duration:         duration,
		Environments: []model.Environment{
			buildEnvironment(category+"-host", r.opts.EnvPrefix, r.opts.Environ()),
		},
		Tests:  tests,
		Suites: []model.Suite{},
	}

	r.logger.Debug().
		Int("tests", len(tests)).
		Int64("duration_ms", int64(duration)).
		Msg("Finalized report")

	return rep, nil
}

func qualifies(ev model.Event) bool {
	switch ev.Phase {
	case model.PhaseCall:
		return true
	case model.PhaseSetup:
		return ev.Outcome == model.StatusFailed
	}
	return false
}

// expectedStatus derives what the attempt anticipated: an executed expected
// failure expects "failed", any skip expects "skipped".
func expectedStatus(ev model.Event) model.TestStatus {
	expected := model.StatusPassed
	if ev.ExpectedFailure {
		expected = model.StatusFailed
	}
	if ev.Outcome == model.StatusSkipped {
		expected = model.StatusSkipped
	}
	return expected
}

// parseTitle removes the source file from a node id:
// "tests/api/test_users.py::TestLogin::test_success" -> "TestLogin::test_success".
func parseTitle(nodeID string) string {
	if _, rest, ok := strings.Cut(nodeID, "::"); ok {
		return rest
	}
	return nodeID
}

func mergeTags(existing, add []string) []string {
	for _, tag := range add {
		found := false
		for _, e := range existing {
			if e == tag {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, tag)
		}
	}
	return existing
}

func stdio(chunks []string) []model.STDIOEntry {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]model.STDIOEntry, 0, len(chunks))
	for _, c := range chunks {
		if utf8.ValidString(c) {
			out = append(out, model.STDIOEntry{Text: c})
		} else {
			out = append(out, model.STDIOEntry{Buffer: base64.StdEncoding.EncodeToString([]byte(c))})
		}
	}
	return out
}
