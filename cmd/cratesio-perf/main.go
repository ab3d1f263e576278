// Package main provides the cratesio-perf CLI entrypoint.
//
// `run` is the only command that builds packages; every other command reads
// the ledger or the results dataset.
//
// Usage:
//
//	cratesio-perf <command> [subcommand] [options]
//
// Exit codes for `run`:
//   - 0: batch finished (individual packages may have failed)
//   - 1: aborted by --stop-on-error, or interrupted
//   - 2: setup error (flags, config, missing index, malformed specifier)
//   - 3: a result write or completion event failed
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nikomatsakis/cratesio-perf/cli/cmd"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "cratesio-perf",
		Usage:          "Time compiler passes across the crates.io corpus",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.ReportCommand(),
			cmd.InspectCommand(),
			cmd.StatsCommand(),
			cmd.VersionCommand(commit),
			cmd.WorkerCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler prints err and exits, preserving codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus maps err to a process exit code and the message to print.
// cli.Exit("", N) prints nothing; unexpected errors exit 1.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, fmt.Sprintf("Error: %v", err)
}
