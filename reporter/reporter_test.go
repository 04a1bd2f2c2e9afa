package reporter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/perfgo/flakiness/gitpath"
	"github.com/perfgo/flakiness/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(250 * time.Millisecond)
	return c.now
}

func newTestReporter(t *testing.T, root string) *Reporter {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	opts := Options{
		Category: "pytest",
		CommitID: "deadbeef",
		Now:      clock.Now,
		Environ:  func() []string { return nil },
	}
	if root != "" {
		opts.Paths = gitpath.New(root, root)
	}
	return New(zerolog.Nop(), opts)
}

func intPtr(i int) *int { return &i }

func finalize(t *testing.T, r *Reporter) *model.Report {
	t.Helper()
	rep, err := r.Finalize()
	require.NoError(t, err)
	return rep
}

func TestSinglePassingTest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "test_simple.py"), []byte("pass"), 0644))

	r := newTestReporter(t, root)
	require.NoError(t, r.RecordOutcome(model.Event{
		NodeID:          "test_simple.py::test_add",
		Phase:           model.PhaseCall,
		Outcome:         model.StatusPassed,
		DurationSeconds: 0.012,
		Location:        &model.RawLocation{Path: "test_simple.py", Line: intPtr(3)},
	}))

	rep := finalize(t, r)
	require.Len(t, rep.Environments, 1)
	require.Len(t, rep.Tests, 1)

	test := rep.Tests[0]
	require.Equal(t, "test_add", test.Title)
	require.Equal(t, &model.Location{File: "test_simple.py", Line: 4, Column: 1}, test.Location)
	require.Len(t, test.Attempts, 1)

	a := test.Attempts[0]
	require.Equal(t, model.StatusPassed, a.Status)
	require.Equal(t, model.StatusPassed, a.ExpectedStatus)
	require.Equal(t, 0, a.EnvironmentIdx)
	require.Equal(t, model.DurationMillis(12), a.Duration)
	require.Empty(t, a.Errors)
	require.Empty(t, a.Annotations)
}

func TestStatusDerivation(t *testing.T) {
	tests := []struct {
		name            string
		event           model.Event
		wantStatus      model.TestStatus
		wantExpected    model.TestStatus
		wantAnnotations []model.Annotation
	}{
		{
			name: "static skip with reason",
			event: model.Event{
				Outcome: model.StatusSkipped,
				Markers: []model.Marker{{Name: "skip", Kwargs: map[string]any{"reason": "X"}}},
			},
			wantStatus:      model.StatusSkipped,
			wantExpected:    model.StatusSkipped,
			wantAnnotations: []model.Annotation{{Type: "skip", Description: "Skipped: X"}},
		},
		{
			name: "static skip with positional reason",
			event: model.Event{
				Outcome: model.StatusSkipped,
				Markers: []model.Marker{{Name: "skip", Args: []any{"not on CI"}}},
			},
			wantStatus:      model.StatusSkipped,
			wantExpected:    model.StatusSkipped,
			wantAnnotations: []model.Annotation{{Type: "skip", Description: "Skipped: not on CI"}},
		},
		{
			name: "static skip without reason",
			event: model.Event{
				Outcome: model.StatusSkipped,
				Markers: []model.Marker{{Name: "skip"}},
			},
			wantStatus:      model.StatusSkipped,
			wantExpected:    model.StatusSkipped,
			wantAnnotations: []model.Annotation{{Type: "skip", Description: "Skipped: unconditional skip"}},
		},
		{
			name: "dynamic skip keeps runner text",
			event: model.Event{
				Outcome:    model.StatusSkipped,
				SkipReason: "Skipped: needs network",
			},
			wantStatus:      model.StatusSkipped,
			wantExpected:    model.StatusSkipped,
			wantAnnotations: []model.Annotation{{Type: "skip", Description: "Skipped: needs network"}},
		},
		{
			name: "dynamic skip wins over untriggered skipif",
			event: model.Event{
				Outcome:    model.StatusSkipped,
				SkipReason: "no database",
				Markers:    []model.Marker{{Name: "skipif", Args: []any{false}, Kwargs: map[string]any{"reason": "windows only"}}},
			},
			wantStatus:      model.StatusSkipped,
			wantExpected:    model.StatusSkipped,
			wantAnnotations: []model.Annotation{{Type: "skip", Description: "no database"}},
		},
		{
			name: "triggered skipif",
			event: model.Event{
				Outcome: model.StatusSkipped,
				Markers: []model.Marker{{Name: "skipif", Args: []any{false, true}, Kwargs: map[string]any{"reason": "windows only"}}},
			},
			wantStatus:      model.StatusSkipped,
			wantExpected:    model.StatusSkipped,
			wantAnnotations: []model.Annotation{{Type: "skip", Description: "Skipped: windows only"}},
		},
		{
			name: "untriggered xfail on a passing test",
			event: model.Event{
				Outcome: model.StatusPassed,
				Markers: []model.Marker{{Name: "xfail", Args: []any{false}, Kwargs: map[string]any{"reason": "flaky on mac"}}},
			},
			wantStatus:   model.StatusPassed,
			wantExpected: model.StatusPassed,
		},
		{
			name: "unconditional xfail marker without runner flag",
			event: model.Event{
				Outcome: model.StatusPassed,
				Markers: []model.Marker{{Name: "xfail", Kwargs: map[string]any{"reason": "bug 7"}}},
			},
			wantStatus:      model.StatusPassed,
			wantExpected:    model.StatusPassed,
			wantAnnotations: []model.Annotation{{Type: "xfail", Description: "bug 7"}},
		},
		{
			name: "expected failure that failed",
			event: model.Event{
				Outcome:         model.StatusFailed,
				ExpectedFailure: true,
				Markers:         []model.Marker{{Name: "xfail", Kwargs: map[string]any{"reason": "bug 12"}}},
			},
			wantStatus:      model.StatusFailed,
			wantExpected:    model.StatusFailed,
			wantAnnotations: []model.Annotation{{Type: "xfail", Description: "bug 12"}},
		},
		{
			name: "expected failure that passed",
			event: model.Event{
				Outcome:               model.StatusPassed,
				ExpectedFailure:       true,
				ExpectedFailureReason: "flaky upstream",
			},
			wantStatus:      model.StatusPassed,
			wantExpected:    model.StatusFailed,
			wantAnnotations: []model.Annotation{{Type: "xfail", Description: "flaky upstream"}},
		},
		{
			name: "expected failure reported as skipped",
			event: model.Event{
				Outcome:         model.StatusSkipped,
				ExpectedFailure: true,
			},
			wantStatus:      model.StatusSkipped,
			wantExpected:    model.StatusSkipped,
			wantAnnotations: []model.Annotation{{Type: "xfail", Description: ""}},
		},
		{
			name: "plain failure",
			event: model.Event{
				Outcome: model.StatusFailed,
			},
			wantStatus:   model.StatusFailed,
			wantExpected: model.StatusPassed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReporter(t, "")
			ev := tt.event
			ev.NodeID = "test_x.py::test_x"
			ev.Phase = model.PhaseCall
			require.NoError(t, r.RecordOutcome(ev))

			rep := finalize(t, r)
			require.Len(t, rep.Tests, 1)
			require.Len(t, rep.Tests[0].Attempts, 1)
			a := rep.Tests[0].Attempts[0]
			require.Equal(t, tt.wantStatus, a.Status)
			require.Equal(t, tt.wantExpected, a.ExpectedStatus)
			if diff := cmp.Diff(tt.wantAnnotations, a.Annotations); diff != "" {
				t.Errorf("annotations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSkippedAlwaysExpectsSkipped(t *testing.T) {
	events := []model.Event{
		{Outcome: model.StatusSkipped},
		{Outcome: model.StatusSkipped, SkipReason: "dynamic"},
		{Outcome: model.StatusSkipped, Markers: []model.Marker{{Name: "skipif", Args: []any{true}, Kwargs: map[string]any{"reason": "py2"}}}},
		{Outcome: model.StatusSkipped, ExpectedFailure: true},
	}
	for i, ev := range events {
		r := newTestReporter(t, "")
		ev.NodeID = "t.py::test_s"
		ev.Phase = model.PhaseCall
		require.NoError(t, r.RecordOutcome(ev))
		rep := finalize(t, r)
		require.Equal(t, model.StatusSkipped, rep.Tests[0].Attempts[0].ExpectedStatus, "event %d", i)
	}
}

func TestTagsAndAnnotations(t *testing.T) {
	r := newTestReporter(t, "")
	markers := []model.Marker{
		{Name: "smoke"},
		{Name: "foo"},
		{Name: "owner", Args: []any{"alice"}},
		{Name: "issue", Args: []any{1234, "ignored"}},
		{Name: "parametrize", Args: []any{"a", []any{1, 2}}},
		{Name: "usefixtures", Args: []any{"db"}},
		{Name: "filterwarnings", Args: []any{"ignore"}},
		{Name: "smoke"},
	}
	require.NoError(t, r.RecordOutcome(model.Event{
		NodeID:  "tests/test_tags.py::test_tagged",
		Phase:   model.PhaseCall,
		Outcome: model.StatusFailed,
		Markers: markers,
		Failure: &model.Failure{Text: "AssertionError", Plain: true},
	}))
	require.NoError(t, r.RecordOutcome(model.Event{
		NodeID:  "tests/test_tags.py::test_tagged",
		Phase:   model.PhaseCall,
		Outcome: model.StatusPassed,
		Markers: append(markers, model.Marker{Name: "slow"}),
	}))

	rep := finalize(t, r)
	require.Len(t, rep.Tests, 1)
	test := rep.Tests[0]
	require.Equal(t, []string{"smoke", "foo", "slow"}, test.Tags)
	require.Len(t, test.Attempts, 2)

	first := test.Attempts[0]
	require.Equal(t, model.StatusFailed, first.Status)
	require.Equal(t, model.StatusPassed, first.ExpectedStatus)
	require.Equal(t, []model.Annotation{
		{Type: "owner", Description: "alice"},
		{Type: "issue", Description: "1234"},
	}, first.Annotations)
	require.Equal(t, []model.ReportError{{Message: "AssertionError"}}, first.Errors)
}

func TestPhaseFiltering(t *testing.T) {
	r := newTestReporter(t, "")
	id := "test_phase.py::test_fixture"

	require.NoError(t, r.RecordOutcome(model.Event{NodeID: id, Phase: model.PhaseSetup, Outcome: model.StatusPassed}))
	require.NoError(t, r.RecordOutcome(model.Event{NodeID: id, Phase: model.PhaseCall, Outcome: model.StatusPassed}))
	require.NoError(t, r.RecordOutcome(model.Event{NodeID: id, Phase: model.PhaseTeardown, Outcome: model.StatusFailed}))
	require.Equal(t, 1, r.Len())

	require.NoError(t, r.RecordOutcome(model.Event{
		NodeID:  "test_phase.py::test_broken_fixture",
		Phase:   model.PhaseSetup,
		Outcome: model.StatusFailed,
		Failure: &model.Failure{Text: "fixture 'db' not found"},
	}))

	rep := finalize(t, r)
	require.Len(t, rep.Tests, 2)
	require.Len(t, rep.Tests[0].Attempts, 1)
	broken := rep.Tests[1].Attempts[0]
	require.Equal(t, model.StatusFailed, broken.Status)
	require.Len(t, broken.Errors, 1)
	require.Equal(t, "fixture 'db' not found", broken.Errors[0].Message)
	require.Equal(t, "fixture 'db' not found", broken.Errors[0].Stack)
}

func TestParametrizedVariants(t *testing.T) {
	r := newTestReporter(t, "")
	variants := []string{"1-2", "3-4", "negative"}
	for _, v := range variants {
		require.NoError(t, r.RecordOutcome(model.Event{
			NodeID:  "tests/test_math.py::test_add[" + v + "]",
			Phase:   model.PhaseCall,
			Outcome: model.StatusPassed,
			Markers: []model.Marker{{Name: "parametrize", Args: []any{"a,b", []any{}}}},
		}))
	}

	rep := finalize(t, r)
	require.Len(t, rep.Tests, len(variants))
	for i, v := range variants {
		require.Equal(t, "test_add["+v+"]", rep.Tests[i].Title)
		require.Empty(t, rep.Tests[i].Tags)
	}
}

func TestRetriesAppendAttempts(t *testing.T) {
	r := newTestReporter(t, "")
	id := "test_flaky.py::TestSuite::test_sometimes"
	for _, outcome := range []model.TestStatus{model.StatusFailed, model.StatusFailed, model.StatusPassed} {
		require.NoError(t, r.RecordOutcome(model.Event{NodeID: id, Phase: model.PhaseCall, Outcome: outcome}))
	}

	rep := finalize(t, r)
	require.Len(t, rep.Tests, 1)
	require.Equal(t, "TestSuite::test_sometimes", rep.Tests[0].Title)
	attempts := rep.Tests[0].Attempts
	require.Len(t, attempts, 3)
	require.Equal(t, model.StatusPassed, attempts[2].Status)
	require.LessOrEqual(t, attempts[0].StartTimestamp, attempts[1].StartTimestamp)
}

func TestCollectionFailureTitle(t *testing.T) {
	r := newTestReporter(t, "")
	require.NoError(t, r.RecordOutcome(model.Event{
		NodeID:  "tests/test_broken.py",
		Phase:   model.PhaseCall,
		Outcome: model.StatusFailed,
		Failure: &model.Failure{Text: "ImportError: no module named foo", Plain: true},
	}))
	rep := finalize(t, r)
	require.Equal(t, "tests/test_broken.py", rep.Tests[0].Title)
}

func TestUnknownOutcome(t *testing.T) {
	r := newTestReporter(t, "")
	require.NoError(t, r.RecordOutcome(model.Event{NodeID: "a::b", Phase: model.PhaseCall, Outcome: "error"}))
	rep := finalize(t, r)
	require.Equal(t, model.StatusFailed, rep.Tests[0].Attempts[0].Status)
}

func TestFinalizeOnce(t *testing.T) {
	r := newTestReporter(t, "")
	_, err := r.Finalize()
	require.NoError(t, err)

	_, err = r.Finalize()
	require.ErrorIs(t, err, ErrFinalized)

	err = r.RecordOutcome(model.Event{NodeID: "a::b", Phase: model.PhaseCall, Outcome: model.StatusPassed})
	require.ErrorIs(t, err, ErrFinalized)
}

func TestFinalizeEnvironment(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	r := New(zerolog.Nop(), Options{
		Category: "gotest",
		CommitID: "abc123",
		Project:  "myorg/myproject",
		Now:      clock.Now,
		Environ: func() []string {
			return []string{
				"FK_ENV_GPU=a100",
				"FK_ENV_Shard=3",
				"FK_ENV_=empty",
				"HOME=/root",
				"FK_ENVNOPE=1",
			}
		},
	})

	rep := finalize(t, r)
	require.Equal(t, "gotest", rep.Category)
	require.Equal(t, "abc123", rep.CommitID)
	require.Equal(t, "myorg/myproject", rep.FlakinessProject)
	require.Equal(t, model.DurationMillis(250), rep.Duration)
	require.NotNil(t, rep.Suites)
	require.Empty(t, rep.Suites)

	env := rep.Environments[0]
	require.Equal(t, "gotest-host", env.Name)
	require.NotNil(t, env.SystemData)
	require.NotEmpty(t, env.SystemData.OSName)
	require.Equal(t, map[string]string{
		"gpu":        "a100",
		"shard":      "3",
		"go_version": runtime.Version(),
	}, env.UserSuppliedData)
}

func TestReportJSONRoundTrip(t *testing.T) {
	r := New(zerolog.Nop(), Options{
		Category: "pytest",
		CommitID: "deadbeef",
		Environ:  func() []string { return nil },
	})
	ids := []string{"a.py::t1", "a.py::t2", "b.py::t3", "a.py::t1"}
	for _, id := range ids {
		require.NoError(t, r.RecordOutcome(model.Event{
			NodeID:          id,
			Phase:           model.PhaseCall,
			Outcome:         model.StatusPassed,
			DurationSeconds: 0.001,
			Stdout:          []string{"hello\n", "\xff\xfe"},
		}))
	}
	rep := finalize(t, r)

	data, err := json.Marshal(rep)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.NotContains(t, raw, "flakinessProject")

	var back model.Report
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Tests, 3)
	for _, test := range back.Tests {
		for _, a := range test.Attempts {
			require.GreaterOrEqual(t, int64(a.Duration), int64(0))
			require.Greater(t, int64(a.StartTimestamp), int64(0))
			require.LessOrEqual(t, int64(a.StartTimestamp)+int64(a.Duration), int64(back.StartTimestamp)+int64(back.Duration))
			require.Equal(t, []model.STDIOEntry{{Text: "hello\n"}, {Buffer: "//4="}}, a.Stdout)
		}
	}
}
