package cli

// This file contains report recording functionality: resolving the run
// configuration and persisting or uploading the finalized report.

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/perfgo/flakiness/attachment"
	"github.com/perfgo/flakiness/config"
	"github.com/perfgo/flakiness/gitpath"
	"github.com/perfgo/flakiness/model"
	"github.com/perfgo/flakiness/oidc"
	"github.com/perfgo/flakiness/report"
	"github.com/perfgo/flakiness/reporter"
	"github.com/perfgo/flakiness/upload"
	"github.com/urfave/cli/v2"
)

const (
	categoryRun    = "gotest"
	categoryIngest = "pytest"
)

// runConfig loads the configuration and fills commit, repository root and
// run root from the working tree when they were not configured.
func (a *App) runConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return cfg, err
	}

	if cfg.RunRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.RunRoot = cwd
		}
	}

	if cfg.CommitID == "" || cfg.GitRoot == "" {
		commit, branch, root, err := a.getGitInfo(cfg.RunRoot)
		if err != nil {
			a.logger.Debug().Err(err).Msg("Failed to discover git repository")
		} else {
			a.logger.Debug().
				Str("commit", commit).
				Str("branch", branch).
				Str("root", root).
				Msg("Discovered git repository")
			if cfg.CommitID == "" {
				cfg.CommitID = commit
			}
			if cfg.GitRoot == "" {
				cfg.GitRoot = root
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *App) newReporter(cfg config.Config, category string) *reporter.Reporter {
	return reporter.New(a.logger, reporter.Options{
		Category:  category,
		CommitID:  cfg.CommitID,
		Project:   cfg.Project,
		Paths:     gitpath.New(cfg.GitRoot, cfg.RunRoot),
		EnvPrefix: cfg.EnvPrefix,
	})
}

// finish finalizes the aggregation and hands the report to its destination.
// Failures are logged, never returned.
func (a *App) finish(ctx context.Context, cfg config.Config, r *reporter.Reporter) *model.Report {
	rep, err := r.Finalize()
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to finalize report")
		return nil
	}

	if data, err := report.Marshal(rep); err == nil {
		if err := report.Validate(data); err != nil {
			a.logger.Warn().Err(err).Msg("Report does not match the report schema")
		}
	}

	switch cfg.Destination() {
	case config.DestinationLocal:
		a.persist(cfg, rep)
	case config.DestinationRemote:
		a.publish(ctx, cfg, rep)
	}
	return rep
}

func (a *App) persist(cfg config.Config, rep *model.Report) {
	if len(cfg.Attachments) > 0 {
		a.logger.Warn().
			Int("attachments", len(cfg.Attachments)).
			Msg("Attachments are only sent with uploads, ignoring them")
	}

	path, err := report.Write(cfg.OutputDir, rep)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to write report")
		return
	}

	ev := a.logger.Info().Str("path", path).Int("tests", len(rep.Tests))
	if _, data, err := report.Load(path); err == nil {
		if digest, err := report.Digest(data); err == nil {
			ev = ev.Str("digest", digest)
		}
	}
	ev.Msg("Report written")
}

func (a *App) publish(ctx context.Context, cfg config.Config, rep *model.Report) {
	client, err := a.uploadClient(ctx, cfg)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Skipping report upload")
		return
	}
	refs := attachment.Collect(a.logger, cfg.Attachments)
	upload.Publish(ctx, a.logger, client, rep, refs)
}

func (a *App) uploadClient(ctx context.Context, cfg config.Config) (*upload.Client, error) {
	token, err := a.resolveToken(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return upload.NewClient(a.logger, upload.Options{
		Endpoint:    cfg.Endpoint,
		Token:       token,
		MaxParallel: cfg.MaxParallelUploads,
	}), nil
}

// resolveToken prefers a configured access token and falls back to a GitHub
// Actions OIDC token scoped to the project.
func (a *App) resolveToken(ctx context.Context, cfg config.Config) (string, error) {
	if cfg.AccessToken != "" {
		return cfg.AccessToken, nil
	}

	resolver, err := oidc.FromEnv(a.logger)
	if errors.Is(err, oidc.ErrUnavailable) {
		return "", errors.New("no access token configured and GitHub Actions OIDC is not available")
	}
	if err != nil {
		return "", err
	}
	if cfg.Project == "" {
		return "", errors.New("a project is required to request a GitHub Actions OIDC token")
	}
	return resolver.FetchToken(ctx, cfg.Project)
}
