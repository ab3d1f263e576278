// Package builder drives the external build tool through compile, test and
// bench phases for one resolved package.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nikomatsakis/cratesio-perf/timing"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// TimePassesFlag makes the compiler print one timing line per pass.
var TimePassesFlag = []string{"-Z", "time-passes"}

// Options configures one builder phase.
type Options struct {
	// Release builds with optimizations.
	Release bool
	// TargetDir holds build artifacts shared across packages.
	TargetDir string
	// Stdout and Stderr receive the tool's output. Nil means the process's
	// own standard streams, which is what a capture guard redirects.
	Stdout io.Writer
	Stderr io.Writer
}

// Builder compiles, tests and benchmarks a resolved package.
type Builder interface {
	// Compile builds the library target with TimePassesFlag.
	Compile(ctx context.Context, pkg *types.ResolvedPackage, opts Options) error
	// Test runs the package's tests. A *PackageFailure means the tests
	// ran and failed; any other error is a tooling error.
	Test(ctx context.Context, pkg *types.ResolvedPackage, opts Options) error
	// Bench runs the package's benchmarks, classified like Test.
	Bench(ctx context.Context, pkg *types.ResolvedPackage, opts Options) error
}

// PackageFailure reports that the package under test failed, as opposed to
// the builder itself erroring.
type PackageFailure struct {
	Phase types.Phase
	Err   error
}

func (e *PackageFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *PackageFailure) Unwrap() error {
	return e.Err
}

// IsPackageFailure reports whether err is a *PackageFailure.
func IsPackageFailure(err error) bool {
	var pf *PackageFailure
	return errors.As(err, &pf)
}

// Config selects which phases Invoke runs.
type Config struct {
	RunTests      bool
	RunBenchmarks bool
	Release       bool
	TargetDir     string
	// OnPhase, if set, is called before each phase starts.
	OnPhase func(types.Phase)
}

// Invoke runs compile, then tests and benches when configured, writing one
// notice per phase to out. A compile failure does not prevent the later
// phases. When compile passes, timing.TerminatorLine is written right after
// its notice so the log's compile timings parse as complete.
func Invoke(ctx context.Context, b Builder, pkg *types.ResolvedPackage, cfg Config, out io.Writer) *types.PhaseOutcomes {
	opts := Options{Release: cfg.Release, TargetDir: cfg.TargetDir}
	name := pkg.DisplayName

	outcomes := &types.PhaseOutcomes{}
	enter := func(p types.Phase) {
		if cfg.OnPhase != nil {
			cfg.OnPhase(p)
		}
	}

	enter(types.PhaseCompile)
	start := time.Now()
	err := b.Compile(ctx, pkg, opts)
	outcomes.Compile = types.PhaseOutcome{Phase: types.PhaseCompile, Duration: time.Since(start)}
	if err == nil {
		outcomes.Compile.Status = types.PhasePassed
		fmt.Fprintf(out, "> compile passed for `%s`\n", name)
		fmt.Fprintln(out, timing.TerminatorLine)
	} else {
		outcomes.Compile.Status = types.PhaseFailed
		outcomes.Compile.Detail = err.Error()
		fmt.Fprintf(out, "> compile failed for `%s`: %v\n", name, err)
	}

	if cfg.RunTests {
		enter(types.PhaseTest)
		outcomes.Test = runTimed(types.PhaseTest, "tests", name, out, func() error {
			return b.Test(ctx, pkg, opts)
		})
	}
	if cfg.RunBenchmarks {
		enter(types.PhaseBench)
		outcomes.Bench = runTimed(types.PhaseBench, "benches", name, out, func() error {
			return b.Bench(ctx, pkg, opts)
		})
	}
	return outcomes
}

func runTimed(phase types.Phase, label, name string, out io.Writer, fn func() error) *types.PhaseOutcome {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	o := &types.PhaseOutcome{Phase: phase, Duration: elapsed}
	switch {
	case err == nil:
		o.Status = types.PhasePassed
		fmt.Fprintf(out, "> %s passed for `%s`: %s\n", label, name, elapsed.Round(time.Millisecond))
	case IsPackageFailure(err):
		o.Status = types.PhaseTestsFailed
		o.Detail = err.Error()
		fmt.Fprintf(out, "> %s failed for `%s`: %v\n", label, name, err)
	default:
		o.Status = types.PhaseToolingError
		o.Detail = err.Error()
		fmt.Fprintf(out, "> cargo error for `%s`: %v\n", name, err)
	}
	return o
}
