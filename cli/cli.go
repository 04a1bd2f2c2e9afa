package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/perfgo/flakiness/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "flakiness"

type App struct {
	logger zerolog.Logger
	out    io.Writer
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		out:    os.Stdout,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Collect test results into a Flakiness report and publish it",
			Flags: append([]cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			}, config.Flags()...),
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "run",
		Usage:           "Run go test and report the results",
		ArgsUsage:       "[packages] [go test flags]",
		Action:          app.run,
		SkipFlagParsing: true,
		Description: `Run 'go test -json' with the given arguments, aggregate every test
attempt into a report and persist or upload it.

The exit status is the exit status of go test.

Examples:
  flakiness run ./...
  flakiness --output-dir out run ./pkg/... -run TestLogin -count 3`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "ingest",
		Usage:  "Build a report from newline delimited runner events",
		Action: app.ingest,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "events",
				Aliases: []string{"e"},
				Usage:   "Events file, - for stdin",
				Value:   "-",
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Runner identifier written into the report",
				Value: categoryIngest,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "upload",
		Usage:     "Upload a persisted report",
		ArgsUsage: "<report.json>",
		Action:    app.upload,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "validate",
		Usage:     "Check a persisted report against the report schema",
		ArgsUsage: "<report.json>",
		Action:    app.validate,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List persisted reports",
		Action: app.list,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Directory searched for reports (default: --output-dir or the working directory)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "view",
		Usage:     "View the tests of a persisted report",
		ArgsUsage: "[INDEX|DIGEST]",
		Action:    app.view,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Directory searched for reports (default: --output-dir or the working directory)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Show passing tests too",
			},
		},
		Description: `View the tests of a persisted report.

Arguments:
  0           View newest report (default)
  -1          View 2nd newest report
  <digest>    View report whose digest starts with the given prefix`,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		if len(commit) > 8 {
			commit = commit[:8]
		}
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	}
}
