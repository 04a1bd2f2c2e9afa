package cli

// This file contains the ingest command for building a report from runner
// events produced by other test frameworks.

import (
	"fmt"
	"io"
	"os"

	"github.com/perfgo/flakiness/testjson"
	"github.com/urfave/cli/v2"
)

func (a *App) ingest(ctx *cli.Context) error {
	cfg, err := a.runConfig(ctx)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if path := ctx.String("events"); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open events file: %w", err)
		}
		defer f.Close()
		in = f
	}

	r := a.newReporter(cfg, ctx.String("category"))
	if err := testjson.DecodeEvents(a.logger, in, r.RecordOutcome); err != nil {
		a.logger.Error().Err(err).Msg("Failed to read runner events")
	}

	if rep := a.finish(ctx.Context, cfg, r); rep != nil {
		a.printSummary(rep)
	}
	return nil
}
