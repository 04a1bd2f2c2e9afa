package cli

// This file contains the list command for displaying persisted reports.

import (
	"fmt"
	"time"

	"github.com/perfgo/flakiness/config"
	"github.com/perfgo/flakiness/history"
	"github.com/urfave/cli/v2"
)

// historyDir returns the directory searched for persisted reports.
func historyDir(ctx *cli.Context) (string, error) {
	if dir := ctx.String("dir"); dir != "" {
		return dir, nil
	}
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return "", err
	}
	if cfg.OutputDir != "" {
		return cfg.OutputDir, nil
	}
	return ".", nil
}

func (a *App) loadHistory(ctx *cli.Context) ([]history.Entry, error) {
	dir, err := historyDir(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := history.LoadEntries(a.logger, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return entries, nil
}

func (a *App) list(ctx *cli.Context) error {
	limit := ctx.Int("limit")

	entries, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No reports found")
		return nil
	}

	// Apply limit
	displayRuns := entries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Fprintf(a.out, "\n=== Reports (%d total) ===\n\n", len(entries))

	for _, entry := range displayRuns {
		rep := entry.Report
		timestamp := entry.Started().Format("2006-01-02 15:04:05")
		duration := (time.Duration(rep.Duration) * time.Millisecond).Round(time.Millisecond)
		s := entry.Summarize()

		// Determine status indicator
		status := "✓"
		if s.Failed > 0 {
			status = "✗"
		}

		fmt.Fprintf(a.out, "%s  %s  [%s]  %s  digest=%s\n", status, timestamp, duration, rep.Category, short(entry.Digest))
		fmt.Fprintf(a.out, "   Tests: %d (attempts: %d, passed: %d, failed: %d, skipped: %d", s.Tests, s.Attempts, s.Passed, s.Failed, s.Skipped)
		if s.Flaky > 0 {
			fmt.Fprintf(a.out, ", flaky: %d", s.Flaky)
		}
		fmt.Fprintln(a.out, ")")
		if rep.CommitID != "" {
			fmt.Fprintf(a.out, "   Commit: %s\n", short(rep.CommitID))
		}
		if rep.FlakinessProject != "" {
			fmt.Fprintf(a.out, "   Project: %s\n", rep.FlakinessProject)
		}
		fmt.Fprintf(a.out, "   Path: %s\n", entry.FullPath)
		fmt.Fprintln(a.out)
	}

	return nil
}

// short returns the first 8 characters of an identifier.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
