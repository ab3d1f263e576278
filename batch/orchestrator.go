package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/nikomatsakis/cratesio-perf/builder"
	"github.com/nikomatsakis/cratesio-perf/capture"
	"github.com/nikomatsakis/cratesio-perf/ledger"
	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/log"
	"github.com/nikomatsakis/cratesio-perf/policy"
	"github.com/nikomatsakis/cratesio-perf/registry"
	"github.com/nikomatsakis/cratesio-perf/timing"
	"github.com/nikomatsakis/cratesio-perf/types"
	"github.com/nikomatsakis/cratesio-perf/worker"
)

// Orchestrator runs batches.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	ledger   *ledger.Ledger
	resolver *registry.Resolver
	logger   *log.Logger

	noticeMu sync.Mutex
	notices  io.Writer
}

// New validates cfg and deps and returns an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.OutputRoot == "" {
		return nil, errors.New("batch: output root is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("batch: registry is required")
	}
	if cfg.Isolated() && deps.Launcher == nil {
		return nil, errors.New("batch: isolated mode requires a worker launcher")
	}
	if !cfg.Isolated() && deps.Builder == nil {
		return nil, errors.New("batch: builder is required")
	}
	if deps.Results == nil {
		deps.Results = policy.NewNoopPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	notices := deps.Notices
	if notices == nil {
		notices = capture.Console()
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		ledger:   ledger.New(cfg.OutputRoot),
		resolver: registry.NewResolver(deps.Registry),
		logger:   deps.Logger,
		notices:  notices,
	}, nil
}

func (o *Orchestrator) notice(format string, args ...any) {
	o.noticeMu.Lock()
	defer o.noticeMu.Unlock()
	fmt.Fprintf(o.notices, format+"\n", args...)
}

// Queue expands inputs into specs. The wildcard token selects every name in
// the registry; otherwise each token must parse, and the first malformed
// token aborts before any work starts. Excluded names are dropped.
func (o *Orchestrator) Queue(ctx context.Context, inputs []string) ([]types.CrateSpec, int, error) {
	var specs []types.CrateSpec
	if types.HasWildcard(inputs) {
		names, err := o.deps.Registry.Names(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("list registry: %w", err)
		}
		specs = make([]types.CrateSpec, 0, len(names))
		for _, n := range names {
			specs = append(specs, types.CrateSpec{Name: n})
		}
	} else {
		var err error
		if specs, err = types.ParseCrateSpecs(inputs); err != nil {
			return nil, 0, err
		}
	}

	exclude := o.cfg.exclusions()
	kept := specs[:0]
	excluded := 0
	for _, s := range specs {
		if exclude[s.Name] {
			excluded++
			o.deps.Metrics.IncExcluded()
			o.logger.Debug("excluded", map[string]any{"package": s.String()})
			continue
		}
		kept = append(kept, s)
	}
	return kept, excluded, nil
}

// Run processes inputs. It returns ErrStopped when StopOnError aborted the
// batch and ctx.Err() when the batch was canceled; the summary is returned
// in both cases.
func (o *Orchestrator) Run(ctx context.Context, inputs []string) (*Summary, error) {
	start := time.Now()
	specs, excluded, err := o.Queue(ctx, inputs)
	if err != nil {
		return nil, err
	}

	sum := &Summary{BatchID: o.cfg.BatchID, Queued: len(specs), Excluded: excluded}
	o.deps.Metrics.AddQueued(len(specs))
	o.logger.Info("batch started", map[string]any{
		"queued":   len(specs),
		"excluded": excluded,
		"jobs":     max(o.cfg.Jobs, 1),
	})

	if o.cfg.Isolated() {
		err = o.runIsolated(ctx, specs, sum)
	} else {
		err = o.runGuarded(ctx, specs, sum)
	}

	if ferr := o.deps.Results.Flush(ctx); ferr != nil {
		sum.StorageErrors++
		o.logger.Error("results flush failed", map[string]any{"error": ferr.Error()})
	}
	sum.Duration = time.Since(start)
	o.logger.Info("batch finished", map[string]any{
		"completed": sum.Completed,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
		"stopped":   sum.Stopped,
		"duration":  sum.Duration.String(),
	})
	return sum, err
}

// admit applies the resumability check. It returns false when spec should be
// left alone.
func (o *Orchestrator) admit(spec types.CrateSpec) (bool, error) {
	done, err := o.ledger.Completed(spec)
	if err != nil {
		return false, err
	}
	if !done {
		return true, nil
	}
	if !o.cfg.Force {
		o.notice("%s: skipping", spec)
		o.deps.Metrics.IncSkipped()
		return false, nil
	}
	o.notice("%s: removing prior results", spec)
	o.deps.Metrics.IncReset()
	if err := o.ledger.Reset(spec); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) builderConfig(targetDir string) builder.Config {
	return builder.Config{
		RunTests:      o.cfg.RunTests,
		RunBenchmarks: o.cfg.RunBenchmarks,
		Release:       o.cfg.Release,
		TargetDir:     targetDir,
	}
}

func (o *Orchestrator) statusFunc(run *types.BuildRun) func(types.BuildStatus) {
	logger := o.logger.WithPackage(run.Spec.String())
	return func(s types.BuildStatus) {
		run.Status = s
		logger.Debug("status", map[string]any{"status": string(s)})
	}
}

func (o *Orchestrator) runGuarded(ctx context.Context, specs []types.CrateSpec, sum *Summary) error {
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := o.processGuarded(ctx, spec)
		if o.record(sum, res) && o.cfg.StopOnError {
			o.notice("%s", ErrStopped)
			sum.Stopped = true
			return ErrStopped
		}
	}
	return nil
}

func (o *Orchestrator) processGuarded(ctx context.Context, spec types.CrateSpec) *PackageResult {
	start := time.Now()
	ok, err := o.admit(spec)
	if err != nil {
		return o.setupFailure(spec, err)
	}
	if !ok {
		return &PackageResult{Spec: spec, Skipped: true}
	}

	o.notice("%s: building and storing results in %s", spec, o.ledger.Dir(spec))
	logPath, err := o.ledger.Prepare(spec)
	if err != nil {
		return o.setupFailure(spec, err)
	}

	run := &types.BuildRun{Spec: spec, OutputDir: o.ledger.Dir(spec), StdioLogPath: logPath, Status: types.StatusPending}
	o.deps.Metrics.IncStarted()

	var res *PackageResult
	err = capture.With(logPath, func() error {
		res = Process(ctx, o.resolver, o.deps.Builder, spec, o.builderConfig(o.cfg.targetDir()), os.Stdout, o.statusFunc(run))
		return nil
	})
	if res == nil {
		res = &PackageResult{Spec: spec, Status: types.StatusFailed, FailureKind: types.FailureSetup, Err: err}
	} else if err != nil {
		o.logger.Warn("capture release failed", map[string]any{"package": spec.String(), "error": err.Error()})
	}
	res.LogPath = logPath
	res.Duration = time.Since(start)
	o.persist(ctx, res, start)
	return res
}

func (o *Orchestrator) runIsolated(ctx context.Context, specs []types.CrateSpec, sum *Summary) error {
	results := make([]*PackageResult, len(specs))
	var stopOnce sync.Once
	stopped := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Jobs)

schedule:
	for i, spec := range specs {
		select {
		case <-stopped:
			break schedule
		case <-gctx.Done():
			break schedule
		default:
		}

		ok, err := o.admit(spec)
		if err != nil {
			results[i] = o.setupFailure(spec, err)
			o.notice("%s: failed because of `%v`", spec, err)
			if o.cfg.StopOnError {
				stopOnce.Do(func() { close(stopped) })
				break
			}
			continue
		}
		if !ok {
			results[i] = &PackageResult{Spec: spec, Skipped: true}
			continue
		}

		g.Go(func() error {
			res := o.processIsolated(gctx, spec)
			results[i] = res
			if res.Failed() {
				o.notice("%s: failed because of `%v`", spec, res.Err)
				if o.cfg.StopOnError {
					stopOnce.Do(func() { close(stopped) })
				}
			}
			return nil
		})
	}
	waitErr := g.Wait()

	for _, res := range results {
		if res == nil {
			continue
		}
		// Failure notices were already printed as workers finished.
		o.tally(sum, res)
	}

	select {
	case <-stopped:
		o.notice("%s", ErrStopped)
		sum.Stopped = true
		return ErrStopped
	default:
	}
	if waitErr != nil {
		return waitErr
	}
	return ctx.Err()
}

func (o *Orchestrator) processIsolated(ctx context.Context, spec types.CrateSpec) *PackageResult {
	start := time.Now()
	o.notice("%s: building and storing results in %s", spec, o.ledger.Dir(spec))
	logPath, err := o.ledger.Prepare(spec)
	if err != nil {
		return o.setupFailure(spec, err)
	}

	run := &types.BuildRun{Spec: spec, OutputDir: o.ledger.Dir(spec), StdioLogPath: logPath, Status: types.StatusPending}
	o.deps.Metrics.IncStarted()

	job := o.deps.Launcher.Template
	job.Type = types.WorkerJobType
	job.BatchID = o.cfg.BatchID
	job.Spec = spec
	job.TargetDir = isolatedTargetDir(o.cfg.targetDir(), spec)
	job.RunTests = o.cfg.RunTests
	job.RunBenchmarks = o.cfg.RunBenchmarks
	job.Release = o.cfg.Release

	out, err := worker.Run(ctx, worker.Config{
		Path:     o.deps.Launcher.Path,
		Args:     o.deps.Launcher.Args,
		Env:      o.deps.Launcher.Env,
		LogPath:  logPath,
		Job:      &job,
		OnStatus: o.statusFunc(run),
		OnDecodeError: func(err error) {
			o.deps.Metrics.IncIPCDecodeErrors()
			o.logger.Warn("worker frame decode failed", map[string]any{"package": spec.String(), "error": err.Error()})
		},
	})

	var res *PackageResult
	if err != nil {
		o.deps.Metrics.IncWorkerLaunchFailure()
		res = &PackageResult{Spec: spec, Status: types.StatusFailed, FailureKind: types.FailureWorker, Err: err}
	} else {
		o.deps.Metrics.IncWorkerLaunchSuccess()
		if out.Frame.FailureKind == types.FailureWorker {
			o.deps.Metrics.IncWorkerCrash()
		}
		res = fromFrame(spec, out.Frame)
	}
	res.LogPath = logPath
	res.Duration = time.Since(start)
	o.persist(ctx, res, start)
	return res
}

// setupFailure records a failure that happened before the package had a
// log to persist.
func (o *Orchestrator) setupFailure(spec types.CrateSpec, err error) *PackageResult {
	o.deps.Metrics.IncFailed(string(types.FailureSetup))
	return &PackageResult{Spec: spec, Status: types.StatusFailed, FailureKind: types.FailureSetup, Err: err}
}

// record tallies res and prints its failure notice. It reports whether res
// is a package failure.
func (o *Orchestrator) record(sum *Summary, res *PackageResult) bool {
	if res.Failed() {
		o.notice("%s: failed because of `%v`", res.Spec, res.Err)
	}
	o.tally(sum, res)
	return res.Failed()
}

func (o *Orchestrator) tally(sum *Summary, res *PackageResult) {
	sum.Results = append(sum.Results, *res)
	switch {
	case res.Skipped:
		sum.Skipped++
	case res.Failed():
		sum.Failed++
	default:
		sum.Completed++
	}
	sum.StorageErrors += res.storageErrors
}

// persist writes the status file, metrics, archived log and result records
// for a concluded package. Storage failures are logged and counted, never
// turned into package failures.
func (o *Orchestrator) persist(ctx context.Context, res *PackageResult, start time.Time) {
	logger := o.logger.WithPackage(res.Spec.String())
	finished := time.Now()

	if res.Failed() {
		o.deps.Metrics.IncFailed(string(res.FailureKind))
	} else {
		o.deps.Metrics.IncCompleted()
	}
	if res.Outcomes != nil {
		for _, p := range []*types.PhaseOutcome{&res.Outcomes.Compile, res.Outcomes.Test, res.Outcomes.Bench} {
			if p != nil {
				o.deps.Metrics.ObservePhase(string(p.Phase), string(p.Status), p.Duration)
			}
		}
	}

	status := &ledger.Status{
		Spec:        res.Spec.String(),
		BatchID:     o.cfg.BatchID,
		Package:     res.Package,
		Status:      res.Status,
		FailureKind: res.FailureKind,
		Outcomes:    res.Outcomes,
		StartedAt:   start.UTC(),
		FinishedAt:  finished.UTC(),
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}
	if err := o.ledger.WriteStatus(res.Spec, status); err != nil {
		res.storageErrors++
		logger.Error("write status failed", map[string]any{"error": err.Error()})
	}

	rec := &lode.PackageRecord{
		Spec:        status.Spec,
		Package:     res.Package,
		Status:      res.Status,
		FailureKind: res.FailureKind,
		Error:       status.Error,
		Outcomes:    res.Outcomes,
		FinishedAt:  finished,
	}
	if o.deps.Archive != nil && res.LogPath != "" {
		path, err := o.archive(ctx, res)
		if err != nil {
			res.storageErrors++
			logger.Error("archive log failed", map[string]any{"error": err.Error()})
		}
		rec.LogArchive = path
	}
	if err := o.deps.Results.RecordPackage(ctx, rec); err != nil {
		res.storageErrors++
		logger.Error("record package failed", map[string]any{"error": err.Error()})
	}

	if res.LogPath != "" {
		timings, perr := timing.ParseFile(res.LogPath)
		trec := lode.TimingRecord{Path: o.ledger.Dir(res.Spec), Package: res.Spec.String(), OK: perr == nil, Timings: timings.Seconds(), Passes: timings.Texts()}
		if err := o.deps.Results.RecordTiming(ctx, trec); err != nil {
			res.storageErrors++
			logger.Error("record timing failed", map[string]any{"error": err.Error()})
		}
	}

	if info, err := os.Stat(res.LogPath); err == nil {
		logger.Info("package finished", map[string]any{
			"status":   string(res.Status),
			"log_size": humanize.Bytes(uint64(info.Size())), //nolint:gosec // file sizes are non-negative
			"duration": res.Duration.Round(time.Millisecond).String(),
		})
	}
}

func (o *Orchestrator) archive(ctx context.Context, res *PackageResult) (string, error) {
	f, err := os.Open(res.LogPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return o.deps.Archive.ArchiveLog(ctx, res.Spec.String(), f)
}
