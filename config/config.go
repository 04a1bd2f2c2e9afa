// Package config holds the scalar configuration of a reporting run.
//
// Values are layered: defaults, then an optional YAML file, then environment
// variables and command line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/perfgo/flakiness/upload"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEnvPrefix = "FK_ENV_"

	FlagConfig             = "config"
	FlagCommitID           = "commit-id"
	FlagGitRoot            = "git-root"
	FlagRunRoot            = "run-root"
	FlagProject            = "project"
	FlagEndpoint           = "endpoint"
	FlagAccessToken        = "access-token"
	FlagOutputDir          = "output-dir"
	FlagEnvPrefix          = "env-prefix"
	FlagAttach             = "attach"
	FlagMaxParallelUploads = "max-parallel-uploads"
)

// Destination is where a finalized report goes.
type Destination int

const (
	DestinationRemote Destination = iota
	DestinationLocal
)

func (d Destination) String() string {
	if d == DestinationLocal {
		return "local"
	}
	return "remote"
}

type Config struct {
	CommitID string `yaml:"commit_id"`
	// Repository root all report paths are relative to
	GitRoot string `yaml:"git_root"`
	// Directory the runner resolved relative paths against
	RunRoot string `yaml:"run_root"`
	// Flakiness project, e.g. "myorg/myproject"
	Project     string `yaml:"project"`
	Endpoint    string `yaml:"endpoint"`
	AccessToken string `yaml:"access_token"`
	// Persist the report here instead of uploading it
	OutputDir string `yaml:"output_dir"`
	EnvPrefix string `yaml:"env_prefix"`
	// Files uploaded with the report, "path[=content/type]"
	Attachments        []string `yaml:"attachments"`
	MaxParallelUploads int      `yaml:"max_parallel_uploads"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Endpoint:           upload.DefaultEndpoint,
		EnvPrefix:          DefaultEnvPrefix,
		MaxParallelUploads: upload.DefaultMaxParallel,
	}
}

// LoadFile reads a YAML configuration file on top of the defaults. Unknown
// keys are rejected.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate performs presence checks only.
func (c Config) Validate() error {
	if c.CommitID == "" {
		return errors.New("commit id is required")
	}
	if c.GitRoot == "" {
		return errors.New("git root is required")
	}
	if c.MaxParallelUploads < 1 {
		return fmt.Errorf("max parallel uploads must be positive, got %d", c.MaxParallelUploads)
	}
	return nil
}

// Destination reports whether the report is persisted locally or uploaded.
func (c Config) Destination() Destination {
	if c.OutputDir != "" {
		return DestinationLocal
	}
	return DestinationRemote
}

// Flags returns the command line flags of the configuration surface.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    FlagConfig,
			Usage:   "YAML configuration file",
			EnvVars: []string{"FLAKINESS_CONFIG"},
		},
		&cli.StringFlag{
			Name:    FlagCommitID,
			Usage:   "Commit the run is attributed to (default: git HEAD)",
			EnvVars: []string{"FLAKINESS_COMMIT_ID"},
		},
		&cli.StringFlag{
			Name:    FlagGitRoot,
			Usage:   "Repository root (default: git top-level directory)",
			EnvVars: []string{"FLAKINESS_GIT_ROOT"},
		},
		&cli.StringFlag{
			Name:    FlagRunRoot,
			Usage:   "Directory relative test paths are resolved against (default: working directory)",
			EnvVars: []string{"FLAKINESS_RUN_ROOT"},
		},
		&cli.StringFlag{
			Name:    FlagProject,
			Usage:   "Flakiness project, also used as the OIDC audience",
			EnvVars: []string{"FLAKINESS_PROJECT"},
		},
		&cli.StringFlag{
			Name:    FlagEndpoint,
			Usage:   "Flakiness service URL",
			EnvVars: []string{"FLAKINESS_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    FlagAccessToken,
			Usage:   "Access token for uploads",
			EnvVars: []string{"FLAKINESS_ACCESS_TOKEN"},
		},
		&cli.StringFlag{
			Name:    FlagOutputDir,
			Usage:   "Write the report to this directory instead of uploading it",
			EnvVars: []string{"FLAKINESS_OUTPUT_DIR"},
		},
		&cli.StringFlag{
			Name:    FlagEnvPrefix,
			Usage:   "Prefix of environment variables recorded in the report",
			EnvVars: []string{"FLAKINESS_ENV_PREFIX"},
		},
		&cli.StringSliceFlag{
			Name:    FlagAttach,
			Usage:   "Attach a file to the upload, as path[=content/type] (repeatable)",
			EnvVars: []string{"FLAKINESS_ATTACH"},
		},
		&cli.IntFlag{
			Name:    FlagMaxParallelUploads,
			Usage:   "Maximum number of concurrent attachment uploads",
			EnvVars: []string{"FLAKINESS_MAX_PARALLEL_UPLOADS"},
		},
	}
}

// FromContext builds the configuration from the config file named by
// --config (if any), overridden by every flag or environment variable that
// was set.
func FromContext(ctx *cli.Context) (Config, error) {
	cfg := Default()
	if path := ctx.String(FlagConfig); path != "" {
		var err error
		cfg, err = LoadFile(path)
		if err != nil {
			return cfg, err
		}
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{FlagCommitID, &cfg.CommitID},
		{FlagGitRoot, &cfg.GitRoot},
		{FlagRunRoot, &cfg.RunRoot},
		{FlagProject, &cfg.Project},
		{FlagEndpoint, &cfg.Endpoint},
		{FlagAccessToken, &cfg.AccessToken},
		{FlagOutputDir, &cfg.OutputDir},
		{FlagEnvPrefix, &cfg.EnvPrefix},
	}
	for _, s := range overrides {
		if ctx.IsSet(s.flag) {
			*s.dst = ctx.String(s.flag)
		}
	}
	if ctx.IsSet(FlagAttach) {
		cfg.Attachments = append(cfg.Attachments, ctx.StringSlice(FlagAttach)...)
	}
	if ctx.IsSet(FlagMaxParallelUploads) {
		cfg.MaxParallelUploads = ctx.Int(FlagMaxParallelUploads)
	}
	return cfg, nil
}
