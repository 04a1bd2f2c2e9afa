package cli

// This file contains the upload command for publishing a persisted report.

import (
	"fmt"

	"github.com/perfgo/flakiness/attachment"
	"github.com/perfgo/flakiness/config"
	"github.com/perfgo/flakiness/report"
	"github.com/urfave/cli/v2"
)

func (a *App) upload(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one report path")
	}

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	rep, data, err := report.Load(ctx.Args().First())
	if err != nil {
		return err
	}
	if err := report.Validate(data); err != nil {
		return err
	}

	client, err := a.uploadClient(ctx.Context, cfg)
	if err != nil {
		return err
	}

	refs := attachment.Collect(a.logger, cfg.Attachments)
	result, err := client.Upload(ctx.Context, rep, refs)
	if err != nil {
		return err
	}

	a.logger.Info().
		Int("tests", len(rep.Tests)).
		Int("attachments", result.Uploaded).
		Int("skipped_attachments", result.Skipped).
		Msg("Report uploaded")
	if result.ReportURL != "" {
		fmt.Fprintln(a.out, result.ReportURL)
	}
	return nil
}
