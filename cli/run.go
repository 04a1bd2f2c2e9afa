package cli

// This file contains the run command, which executes go test and records
// every test attempt.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	gocmd "github.com/perfgo/flakiness/cli/go"
	"github.com/perfgo/flakiness/history"
	"github.com/perfgo/flakiness/model"
	"github.com/perfgo/flakiness/testjson"
	"github.com/urfave/cli/v2"
)

func (a *App) run(ctx *cli.Context) error {
	// Get additional arguments passed after flags (or after --)
	testArgs := removeFirstDashDash(ctx.Args().Slice())

	cfg, err := a.runConfig(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Reporting disabled, running tests without a report")
		return a.runUnreported(ctx, testArgs)
	}

	locator := testjson.NewSourceLocator(a.logger, a.packageDirs(testArgs))
	r := a.newReporter(cfg, categoryRun)
	converter := testjson.NewConverter(a.logger, locator, r.RecordOutcome)

	cmd, line := gocmd.TestJSON(ctx.Context, testArgs)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to capture go test output: %w", err)
	}

	a.logger.Info().Str("command", line).Msg("Running tests")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start go test: %w", err)
	}

	if err := converter.Convert(stdout); err != nil {
		a.logger.Error().Err(err).Msg("Failed to read test events")
		// Drain so go test does not block on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if rep := a.finish(ctx.Context, cfg, r); rep != nil {
		a.printSummary(rep)
	}

	return exitStatus(waitErr)
}

// runUnreported runs go test with its output passed through.
func (a *App) runUnreported(ctx *cli.Context, testArgs []string) error {
	cmd, line := gocmd.Test(ctx.Context, testArgs)
	cmd.Stdout = a.out
	cmd.Stderr = os.Stderr

	a.logger.Info().Str("command", line).Msg("Running tests")
	return exitStatus(cmd.Run())
}

// packageDirs resolves the packages under test to their source directories.
// Failures only cost test locations.
func (a *App) packageDirs(testArgs []string) map[string]string {
	patterns := packagePatterns(testArgs)
	packages, err := gocmd.List(patterns...)
	if err != nil {
		a.logger.Warn().Err(err).Strs("patterns", patterns).Msg("Failed to list packages, test locations are unavailable")
		return map[string]string{}
	}

	dirs := make(map[string]string, len(packages))
	for _, p := range packages {
		dirs[p.ImportPath] = p.Dir
	}
	a.logger.Debug().Int("packages", len(dirs)).Msg("Resolved package directories")
	return dirs
}

func (a *App) printSummary(rep *model.Report) {
	s := history.Entry{Report: rep}.Summarize()
	fmt.Fprintf(a.out, "%d tests, %d attempts: %d passed, %d failed, %d skipped", s.Tests, s.Attempts, s.Passed, s.Failed, s.Skipped)
	if s.Flaky > 0 {
		fmt.Fprintf(a.out, ", %d flaky", s.Flaky)
	}
	fmt.Fprintln(a.out)
}

// exitStatus propagates the exit code of go test.
func exitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 1 {
			// Killed by a signal
			code = 1
		}
		return cli.Exit("", code)
	}
	return fmt.Errorf("go test failed: %w", err)
}
