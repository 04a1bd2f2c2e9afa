package history

// This file contains shared history utilities for discovering and loading
// previously persisted reports.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/perfgo/flakiness/model"
	"github.com/perfgo/flakiness/report"
	"github.com/rs/zerolog"
)

type Entry struct {
	Report *model.Report
	// Path of the report.json file
	FullPath string
	// Canonical digest of the persisted document
	Digest string
}

// Started returns the run start time.
func (e Entry) Started() time.Time {
	return time.UnixMilli(int64(e.Report.StartTimestamp))
}

// Summary counts the attempts of a report by status.
type Summary struct {
	Tests    int
	Attempts int
	Passed   int
	Failed   int
	Skipped  int
	// Tests that both failed and passed within the run
	Flaky int
}

// Summarize counts tests and attempts of the entry's report.
func (e Entry) Summarize() Summary {
	s := Summary{Tests: len(e.Report.Tests)}
	for _, t := range e.Report.Tests {
		var passed, failed bool
		for _, a := range t.Attempts {
			s.Attempts++
			switch a.Status {
			case model.StatusPassed:
				s.Passed++
				passed = true
			case model.StatusFailed:
				s.Failed++
				failed = failed || a.ExpectedStatus != model.StatusFailed
			case model.StatusSkipped:
				s.Skipped++
			}
		}
		if passed && failed {
			s.Flaky++
		}
	}
	return s
}

// LoadEntries loads every report found below root, newest first.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || d.Name() != report.FileName {
			return nil
		}

		rep, data, err := report.Load(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to parse report.json")
			return nil
		}
		digest, err := report.Digest(data)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to digest report.json")
		}

		entries = append(entries, Entry{
			Report:   rep,
			FullPath: path,
			Digest:   digest,
		})
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Report.StartTimestamp > entries[j].Report.StartTimestamp
	})

	return entries, nil
}
