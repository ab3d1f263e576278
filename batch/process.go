package batch

import (
	"context"
	"errors"
	"io"
	"path/filepath"

	"github.com/nikomatsakis/cratesio-perf/builder"
	"github.com/nikomatsakis/cratesio-perf/registry"
	"github.com/nikomatsakis/cratesio-perf/types"
	"github.com/nikomatsakis/cratesio-perf/worker"
)

var phaseStatus = map[types.Phase]types.BuildStatus{
	types.PhaseCompile: types.StatusBuilding,
	types.PhaseTest:    types.StatusTesting,
	types.PhaseBench:   types.StatusBenchmarking,
}

// Process resolves spec and runs the configured phases, writing package
// output to out. A resolution failure is a package failure; phase outcomes,
// passed or not, are a completed package.
func Process(ctx context.Context, resolver *registry.Resolver, b builder.Builder, spec types.CrateSpec, cfg builder.Config, out io.Writer, onStatus func(types.BuildStatus)) *PackageResult {
	res := &PackageResult{Spec: spec}

	onStatus(types.StatusResolving)
	pkg, err := resolver.Resolve(ctx, spec)
	if err != nil {
		res.Status = types.StatusFailed
		res.Err = err
		res.FailureKind = types.FailureDownload
		var rerr *registry.ResolveError
		if errors.As(err, &rerr) {
			res.FailureKind = rerr.FailureKind()
		}
		onStatus(types.StatusFailed)
		return res
	}
	res.Package = &pkg.ID

	cfg.OnPhase = func(p types.Phase) { onStatus(phaseStatus[p]) }
	res.Outcomes = builder.Invoke(ctx, b, pkg, cfg, out)
	res.Status = types.StatusDone
	onStatus(types.StatusDone)
	return res
}

// WorkerHandler serves isolated jobs. newRegistry and newBuilder build the
// collaborators from the settings the job carries.
func WorkerHandler(newRegistry func(*types.WorkerJobFrame) (registry.Registry, error), newBuilder func(*types.WorkerJobFrame) builder.Builder) worker.Handler {
	return func(ctx context.Context, job *types.WorkerJobFrame, out io.Writer, onStatus func(types.BuildStatus)) *types.WorkerResultFrame {
		reg, err := newRegistry(job)
		if err != nil {
			return &types.WorkerResultFrame{
				Status:      types.StatusFailed,
				FailureKind: types.FailureSetup,
				Error:       err.Error(),
			}
		}
		cfg := builder.Config{
			RunTests:      job.RunTests,
			RunBenchmarks: job.RunBenchmarks,
			Release:       job.Release,
			TargetDir:     job.TargetDir,
		}
		res := Process(ctx, registry.NewResolver(reg), newBuilder(job), job.Spec, cfg, out, onStatus)
		return toFrame(res)
	}
}

func toFrame(res *PackageResult) *types.WorkerResultFrame {
	f := &types.WorkerResultFrame{
		Type:        types.WorkerResultType,
		Package:     res.Package,
		Status:      res.Status,
		FailureKind: res.FailureKind,
		Outcomes:    res.Outcomes,
	}
	if res.Err != nil {
		f.Error = res.Err.Error()
	}
	return f
}

func fromFrame(spec types.CrateSpec, f *types.WorkerResultFrame) *PackageResult {
	res := &PackageResult{
		Spec:        spec,
		Package:     f.Package,
		Status:      f.Status,
		FailureKind: f.FailureKind,
		Outcomes:    f.Outcomes,
	}
	if f.Error != "" {
		res.Err = errors.New(f.Error)
	}
	return res
}

// isolatedTargetDir gives each worker its own build directory so concurrent
// cargo invocations do not serialize on the target-dir lock.
func isolatedTargetDir(root string, spec types.CrateSpec) string {
	return filepath.Join(root, spec.String())
}
