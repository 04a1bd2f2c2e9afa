package reporter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/perfgo/flakiness/model"
	"github.com/stretchr/testify/require"
)

func TestExtractError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tests"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tests", "test_api.py"), []byte("x"), 0644))

	r := newTestReporter(t, root)
	outside := filepath.Join(t.TempDir(), "site-packages", "lib.py")

	tests := []struct {
		name    string
		failure *model.Failure
		want    *model.ReportError
	}{
		{
			name: "no failure",
		},
		{
			name:    "plain string",
			failure: &model.Failure{Text: "collection error", Plain: true},
			want:    &model.ReportError{Message: "collection error"},
		},
		{
			name:    "textual rendering only",
			failure: &model.Failure{Text: "def test():\n>   assert 1 == 2\nE   assert 1 == 2"},
			want: &model.ReportError{
				Message: "def test():\n>   assert 1 == 2\nE   assert 1 == 2",
				Stack:   "def test():\n>   assert 1 == 2\nE   assert 1 == 2",
			},
		},
		{
			name: "crash with location",
			failure: &model.Failure{
				Text:  "full trace",
				Crash: &model.Crash{Path: "tests/test_api.py", Line: intPtr(41), Message: "AssertionError: boom"},
			},
			want: &model.ReportError{
				Message:  "AssertionError: boom",
				Stack:    "full trace",
				Location: &model.Location{File: "tests/test_api.py", Line: 42, Column: 1},
			},
		},
		{
			name: "crash without line",
			failure: &model.Failure{
				Text:  "full trace",
				Crash: &model.Crash{Path: "tests/test_api.py"},
			},
			want: &model.ReportError{
				Message:  "full trace",
				Stack:    "full trace",
				Location: &model.Location{File: "tests/test_api.py", Line: 1, Column: 1},
			},
		},
		{
			name: "crash outside repository keeps message",
			failure: &model.Failure{
				Text:  "full trace",
				Crash: &model.Crash{Path: outside, Line: intPtr(3), Message: "KeyError"},
			},
			want: &model.ReportError{Message: "KeyError", Stack: "full trace"},
		},
		{
			name: "traceback snippet from innermost frame",
			failure: &model.Failure{
				Text: "full trace",
				Traceback: []model.TracebackEntry{
					{Lines: []string{"outer()"}},
					{Lines: []string{"    def inner():", ">       assert False", "E       assert False"}},
				},
			},
			want: &model.ReportError{
				Message: "full trace",
				Stack:   "full trace",
				Snippet: "    def inner():\n>       assert False\nE       assert False",
			},
		},
		{
			name: "empty innermost frame",
			failure: &model.Failure{
				Text:      "full trace",
				Traceback: []model.TracebackEntry{{Lines: []string{"outer()"}}, {}},
			},
			want: &model.ReportError{Message: "full trace", Stack: "full trace"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, r.extractError(tt.failure))
		})
	}
}

func TestFailedAttemptCarriesError(t *testing.T) {
	r := newTestReporter(t, "")
	require.NoError(t, r.RecordOutcome(model.Event{
		NodeID:  "t.py::test_passes",
		Phase:   model.PhaseCall,
		Outcome: model.StatusPassed,
		Failure: &model.Failure{Text: "ignored"},
	}))
	require.NoError(t, r.RecordOutcome(model.Event{
		NodeID:  "t.py::test_fails",
		Phase:   model.PhaseCall,
		Outcome: model.StatusFailed,
		Failure: &model.Failure{Text: "trace", Crash: &model.Crash{Path: "t.py", Line: intPtr(0), Message: "boom"}},
	}))

	rep := finalize(t, r)
	require.Empty(t, rep.Tests[0].Attempts[0].Errors)
	require.Equal(t, []model.ReportError{{Message: "boom", Stack: "trace"}}, rep.Tests[1].Attempts[0].Errors)
}
