package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nikomatsakis/cratesio-perf/batch"
	"github.com/nikomatsakis/cratesio-perf/builder"
	"github.com/nikomatsakis/cratesio-perf/registry"
	"github.com/nikomatsakis/cratesio-perf/types"
	"github.com/nikomatsakis/cratesio-perf/worker"
)

// WorkerCommand returns the hidden subcommand isolated batches launch once
// per package. It reads a job frame on stdin, writes frames to fd 3, and
// lets the build write to stdout and stderr, which are the package log.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:   worker.DefaultCommand,
		Usage:  "Build one package for an isolated batch (internal)",
		Hidden: true,
		Action: workerAction,
	}
}

func workerAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := os.NewFile(uintptr(worker.ResultFD), "results")
	if _, err := results.Stat(); err != nil {
		return cli.Exit("worker: result descriptor is not open", worker.ExitCodeInvalidInput)
	}
	defer results.Close()

	handle := batch.WorkerHandler(newWorkerRegistry, newWorkerBuilder)
	code := worker.Serve(ctx, os.Stdin, results, os.Stdout, handle)
	return cli.Exit("", code)
}

func newWorkerRegistry(job *types.WorkerJobFrame) (registry.Registry, error) {
	return registry.NewIndexRegistry(job.IndexPath, registry.NewDownloader(job.CacheDir, nil))
}

func newWorkerBuilder(job *types.WorkerJobFrame) builder.Builder {
	return builder.NewCargoBuilder(builder.CargoConfig{
		Path:      job.Cargo.Path,
		Toolchain: job.Cargo.Toolchain,
		Env:       job.Cargo.Env,
	})
}
