package main

import (
	"log"
	"os"

	"github.com/perfgo/flakiness/cli"
)

// Build information, injected with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := cli.New()
	app.SetVersion(version, commit, date)

	// Exit codes from cli.Exit are handled inside Run.
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
