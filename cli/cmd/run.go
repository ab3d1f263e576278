package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nikomatsakis/cratesio-perf/adapter"
	"github.com/nikomatsakis/cratesio-perf/adapter/redis"
	"github.com/nikomatsakis/cratesio-perf/adapter/webhook"
	"github.com/nikomatsakis/cratesio-perf/batch"
	"github.com/nikomatsakis/cratesio-perf/builder"
	"github.com/nikomatsakis/cratesio-perf/capture"
	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/log"
	"github.com/nikomatsakis/cratesio-perf/metrics"
	"github.com/nikomatsakis/cratesio-perf/policy"
	"github.com/nikomatsakis/cratesio-perf/registry"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// Exit codes for run.
const (
	exitSuccess      = 0
	exitFailure      = 1 // --stop-on-error aborted the batch, or it was interrupted
	exitSetupError   = 2 // bad flags or config, missing index, malformed specifier
	exitStorageError = 3 // a result write or completion event failed
)

// publishTimeout bounds the final metrics write and event publish.
const publishTimeout = 30 * time.Second

// RunCommand returns the run command.
// This is the only command that builds packages.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Build packages from the registry, capturing timing logs",
		ArgsUsage: "<name[=version]>... | '*'",
		Flags: withFlags([]cli.Flag{
			ConfigFlag,
			OutputRootFlag,
			&cli.StringFlag{Name: "index", Usage: "Registry index checkout (default <out>/index)"},
			&cli.StringFlag{Name: "cache-dir", Usage: "Extracted package cache (default <out>/cache)"},
			&cli.StringFlag{Name: "target-dir", Usage: "Build directory (default <out>/results)"},
			&cli.BoolFlag{Name: "test", Usage: "Run each package's tests after compiling"},
			&cli.BoolFlag{Name: "bench", Usage: "Run each package's benchmarks after compiling"},
			&cli.BoolFlag{Name: "release", Usage: "Build in release mode"},
			&cli.BoolFlag{Name: "force", Usage: "Rebuild packages that already have results"},
			&cli.BoolFlag{Name: "stop-on-error", Usage: "Abort the batch at the first package failure"},
			&cli.IntFlag{Name: "jobs", Aliases: []string{"j"}, Usage: "Packages built at once; above 1 each runs in its own worker", Value: 1},
			&cli.StringSliceFlag{Name: "exclude", Usage: "Package names to skip (replaces the built-in list)"},
			&cli.BoolFlag{Name: "no-exclude", Usage: "Do not skip any package names"},
			&cli.StringFlag{Name: "batch-id", Usage: "Batch ID (default: random UUID)"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error", Value: "info"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics at this address while running"},
			&cli.StringFlag{Name: "cargo", Usage: "Path to cargo", Value: builder.DefaultCargoPath},
			&cli.StringFlag{Name: "toolchain", Usage: "Toolchain passed as +<toolchain> (time-passes needs nightly)"},
			&cli.StringFlag{Name: "policy", Usage: "Results policy: strict, buffered or noop", Value: string(policy.NameStrict)},
			&cli.IntFlag{Name: "buffer-records", Usage: "Records held by the buffered policy before a flush"},
			&cli.StringFlag{Name: "adapter", Usage: "Batch completion notification: webhook or redis"},
			&cli.StringFlag{Name: "adapter-url", Usage: "Webhook endpoint or Redis URL"},
			&cli.StringFlag{Name: "adapter-channel", Usage: "Redis pub/sub channel"},
			&cli.DurationFlag{Name: "adapter-timeout", Usage: "Per-attempt notification timeout"},
			&cli.IntFlag{Name: "adapter-retries", Usage: "Notification retries"},
		}, storageFlags()),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one package name (or '*') is required", exitSetupError)
	}
	s, err := resolveRunSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	mode := log.ModeGuarded
	if s.jobs > 1 {
		mode = log.ModeIsolated
	}
	level, err := log.ParseLevel(s.logLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --log-level: %v", err), exitSetupError)
	}
	logger := log.NewLoggerWithWriter(log.BatchContext{BatchID: s.batchID, Mode: mode}, capture.ConsoleErr(), level)
	defer func() { _ = logger.Sync() }()

	collector := metrics.NewCollector(mode, s.storage.label(), s.batchID)
	if s.metricsAddr != "" {
		srv, err := metrics.Serve(ctx, s.metricsAddr, collector, func(err error) {
			logger.Error("metrics server failed", map[string]any{"error": err.Error()})
		})
		if err != nil {
			return cli.Exit(err.Error(), exitSetupError)
		}
		logger.Info("serving metrics", map[string]any{"addr": srv.Addr()})
		defer func() { _ = srv.Close(context.Background()) }()
	}

	reg, err := registry.NewIndexRegistry(s.index, registry.NewDownloader(s.cacheDir, nil))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	lodeCfg := lode.Config{Dataset: s.storage.dataset, BatchID: s.batchID, Day: lode.DeriveDay(startTime)}
	client, err := buildResultsClient(ctx, s.storage, lodeCfg, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize results dataset: %v", err), exitSetupError)
	}
	pol, err := buildPolicy(s, client, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	deps := batch.Deps{
		Registry: reg,
		Builder:  builder.NewCargoBuilder(s.cargo),
		Results:  pol,
		Metrics:  collector,
		Logger:   logger,
		Notices:  capture.Console(),
	}
	if client != nil {
		deps.Archive = client
	}
	if s.jobs > 1 {
		launcher, err := workerLauncher(s)
		if err != nil {
			return cli.Exit(err.Error(), exitSetupError)
		}
		deps.Launcher = launcher
	}

	orch, err := batch.New(batch.Config{
		OutputRoot:    s.outputRoot,
		BatchID:       s.batchID,
		RunTests:      s.test,
		RunBenchmarks: s.bench,
		Release:       s.release,
		TargetDir:     s.targetDir,
		Force:         s.force,
		StopOnError:   s.stopOnError,
		Exclude:       s.exclude,
		Jobs:          s.jobs,
	}, deps)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	sum, runErr := orch.Run(ctx, c.Args().Slice())
	if sum == nil {
		_ = pol.Close()
		return cli.Exit(runErr.Error(), exitSetupError)
	}

	storageErrors := sum.StorageErrors
	if err := pol.Close(); err != nil {
		storageErrors++
		logger.Error("closing results policy failed", map[string]any{"error": err.Error()})
	}

	// The batch context may already be canceled; final writes get their own.
	finalCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if client != nil {
		if err := client.WriteMetrics(finalCtx, collector.Snapshot(), time.Now()); err != nil {
			storageErrors++
			logger.Error("writing batch metrics failed", map[string]any{"error": err.Error()})
		}
	}

	if s.adapter.kind != "" {
		event := completionEvent(s, lodeCfg, sum, runErr)
		if err := publishEvent(finalCtx, s.adapter, event); err != nil {
			storageErrors++
			logger.Error("publishing batch completion failed", map[string]any{"error": err.Error()})
		}
	}

	printSummary(c.App.ErrWriter, sum, pol.Stats(), storageErrors)

	switch {
	case errors.Is(runErr, batch.ErrStopped):
		return cli.Exit("", exitFailure)
	case runErr != nil:
		return cli.Exit(fmt.Sprintf("batch interrupted: %v", runErr), exitFailure)
	case storageErrors > 0:
		return cli.Exit(fmt.Sprintf("%d result write(s) failed", storageErrors), exitStorageError)
	}
	return cli.Exit("", exitSuccess)
}

// buildResultsClient opens the results dataset, or returns nil when none is
// configured.
func buildResultsClient(ctx context.Context, st storageChoice, cfg lode.Config, collector *metrics.Collector) (lode.Client, error) {
	if !st.enabled() {
		return nil, nil
	}

	var (
		client *lode.LodeClient
		err    error
	)
	switch st.backend {
	case "fs":
		client, err = lode.NewLodeClient(cfg, st.path)
	case "s3":
		client, err = lode.NewLodeS3Client(ctx, cfg, st.s3Config())
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", st.backend)
	}
	if err != nil {
		return nil, err
	}
	return lode.NewInstrumentedClient(client, collector), nil
}

// buildPolicy selects the results policy. Without a dataset every record is
// discarded.
func buildPolicy(s *runSettings, client lode.Client, logger *log.Logger) (policy.Policy, error) {
	if client == nil {
		return policy.NewNoopPolicy(), nil
	}
	return policy.New(s.policy, client, policy.BufferedConfig{
		MaxBufferRecords: s.bufferRecords,
		Logger:           logger,
	})
}

// workerLauncher re-executes this binary's hidden worker subcommand.
func workerLauncher(s *runSettings) (*batch.Launcher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate worker executable: %w", err)
	}
	return &batch.Launcher{
		Path: exe,
		Template: types.WorkerJobFrame{
			IndexPath: s.index,
			CacheDir:  s.cacheDir,
			Cargo: types.CargoSettings{
				Path:      s.cargo.Path,
				Toolchain: s.cargo.Toolchain,
				Env:       s.cargo.Env,
			},
		},
	}, nil
}

func completionEvent(s *runSettings, cfg lode.Config, sum *batch.Summary, runErr error) *adapter.BatchCompletedEvent {
	outcome := "completed"
	switch {
	case sum.Stopped:
		outcome = "stopped"
	case runErr != nil || sum.Failed > 0:
		outcome = "failed"
	}
	return &adapter.BatchCompletedEvent{
		EventType:   adapter.EventTypeBatchCompleted,
		BatchID:     sum.BatchID,
		Day:         cfg.Day,
		Outcome:     outcome,
		OutputRoot:  s.outputRoot,
		StoragePath: s.storage.path,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Queued:      sum.Queued,
		Skipped:     sum.Skipped,
		Completed:   sum.Completed,
		Failed:      sum.Failed,
		DurationMs:  sum.Duration.Milliseconds(),
	}
}

func newAdapter(choice adapterChoice) (adapter.Adapter, error) {
	switch choice.kind {
	case "webhook":
		retries := webhook.DefaultRetries
		if choice.retries != nil {
			retries = *choice.retries
		}
		return webhook.New(webhook.Config{
			URL:     choice.url,
			Headers: choice.headers,
			Timeout: choice.timeout,
			Retries: retries,
		})
	case "redis":
		retries := redis.DefaultRetries
		if choice.retries != nil {
			retries = *choice.retries
		}
		return redis.New(redis.Config{
			URL:     choice.url,
			Channel: choice.channel,
			Timeout: choice.timeout,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter: %s", choice.kind)
	}
}

func publishEvent(ctx context.Context, choice adapterChoice, event *adapter.BatchCompletedEvent) error {
	a, err := newAdapter(choice)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return a.Publish(ctx, event)
}

func printSummary(w io.Writer, sum *batch.Summary, stats policy.Stats, storageErrors int) {
	fmt.Fprintf(w, "\nbatch_id=%s, queued=%d, excluded=%d, skipped=%d, completed=%d, failed=%d, duration=%s\n",
		sum.BatchID,
		sum.Queued,
		sum.Excluded,
		sum.Skipped,
		sum.Completed,
		sum.Failed,
		sum.Duration.Round(time.Millisecond),
	)
	if stats.TotalPackages > 0 || storageErrors > 0 {
		fmt.Fprintf(w, "records: packages=%d/%d, timings=%d/%d, flushes=%d, storage_errors=%d\n",
			stats.PackagesPersisted, stats.TotalPackages,
			stats.TimingsPersisted, stats.TotalTimings,
			stats.FlushCount,
			storageErrors,
		)
	}
	for _, res := range sum.Results {
		if res.Failed() {
			fmt.Fprintf(w, "  failed: %s (%s): %v\n", res.Spec, res.FailureKind, res.Err)
		}
	}
}
