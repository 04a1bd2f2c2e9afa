package cli

// This file contains the validate command for checking persisted reports.

import (
	"fmt"

	"github.com/perfgo/flakiness/report"
	"github.com/urfave/cli/v2"
)

func (a *App) validate(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one report path")
	}
	path := ctx.Args().First()

	rep, data, err := report.Load(path)
	if err != nil {
		return err
	}
	if err := report.Validate(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	digest, err := report.Digest(data)
	if err != nil {
		return err
	}

	a.logger.Debug().Str("path", path).Int("tests", len(rep.Tests)).Msg("Report is valid")
	fmt.Fprintf(a.out, "%s  %s\n", digest, path)
	return nil
}
