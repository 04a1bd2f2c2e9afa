package cli

// This file contains the view command for displaying the tests of a
// persisted report.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/perfgo/flakiness/history"
	"github.com/perfgo/flakiness/model"
	"github.com/urfave/cli/v2"
)

func parseViewArgs(in []string) string {
	in = removeFirstDashDash(in)
	if len(in) == 0 {
		return "0"
	}
	return in[0]
}

// selectEntry finds an entry by index (0 newest, -1 second newest, ...) or by
// digest prefix. entries must be sorted newest first.
func selectEntry(entries []history.Entry, arg string) (*history.Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no reports found")
	}

	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil && parsed <= 0 {
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d reports)", arg, len(entries))
		}
		return &entries[index], nil
	}

	prefix := strings.ToLower(arg)
	for i := range entries {
		if entries[i].Digest != "" && strings.HasPrefix(entries[i].Digest, prefix) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no report found matching digest: %s", arg)
}

func (a *App) view(ctx *cli.Context) error {
	arg := parseViewArgs(ctx.Args().Slice())

	entries, err := a.loadHistory(ctx)
	if err != nil {
		return err
	}

	entry, err := selectEntry(entries, arg)
	if err != nil {
		return err
	}

	a.displayEntry(entry, ctx.Bool("all"))
	return nil
}

func (a *App) displayEntry(entry *history.Entry, all bool) {
	rep := entry.Report

	// Print header
	fmt.Fprintf(a.out, "=== Report: %s ===\n", short(entry.Digest))
	fmt.Fprintf(a.out, "Time: %s\n", entry.Started().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(a.out, "Category: %s\n", rep.Category)
	fmt.Fprintf(a.out, "Commit: %s\n", rep.CommitID)
	if rep.FlakinessProject != "" {
		fmt.Fprintf(a.out, "Project: %s\n", rep.FlakinessProject)
	}
	for _, env := range rep.Environments {
		fmt.Fprintf(a.out, "Environment: %s", env.Name)
		if sd := env.SystemData; sd != nil {
			fmt.Fprintf(a.out, " (%s %s %s)", sd.OSName, sd.OSVersion, sd.OSArch)
		}
		fmt.Fprintln(a.out)
	}
	fmt.Fprintln(a.out)

	for _, t := range rep.Tests {
		if !all && !hasUnexpected(t) {
			continue
		}
		fmt.Fprintf(a.out, "%s %s\n", statusLine(t), t.Title)
		if t.Location != nil {
			fmt.Fprintf(a.out, "   at %s:%d\n", t.Location.File, t.Location.Line)
		}
		if len(t.Tags) > 0 {
			fmt.Fprintf(a.out, "   tags: %s\n", strings.Join(t.Tags, ", "))
		}
		for i, at := range t.Attempts {
			for _, an := range at.Annotations {
				fmt.Fprintf(a.out, "   #%d %s: %s\n", i+1, an.Type, an.Description)
			}
			for _, e := range at.Errors {
				msg := e.Message
				if e.Location != nil {
					msg = fmt.Sprintf("%s:%d: %s", e.Location.File, e.Location.Line, msg)
				}
				fmt.Fprintf(a.out, "   #%d %s\n", i+1, msg)
			}
		}
	}
}

// hasUnexpected reports whether any attempt ended differently than expected.
func hasUnexpected(t *model.Test) bool {
	for _, at := range t.Attempts {
		if at.Status != at.ExpectedStatus {
			return true
		}
	}
	return false
}

// statusLine renders one character per attempt.
func statusLine(t *model.Test) string {
	var b strings.Builder
	for _, at := range t.Attempts {
		switch {
		case at.Status == model.StatusSkipped:
			b.WriteString("s")
		case at.Status == at.ExpectedStatus:
			b.WriteString("✓")
		default:
			b.WriteString("✗")
		}
	}
	return "[" + b.String() + "]"
}
