// Package batch drives a queue of crate specs through resolve, build and
// result recording.
//
// With one job the orchestrator runs packages in input order inside this
// process, capturing each package's output with a capture guard. With more
// than one job every package runs in its own worker process that writes to
// a private log, so no process-wide streams are shared.
package batch

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/nikomatsakis/cratesio-perf/builder"
	"github.com/nikomatsakis/cratesio-perf/log"
	"github.com/nikomatsakis/cratesio-perf/metrics"
	"github.com/nikomatsakis/cratesio-perf/policy"
	"github.com/nikomatsakis/cratesio-perf/registry"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// ErrStopped is returned when a package failure aborts the batch because
// StopOnError is set.
var ErrStopped = errors.New("aborting due to --stop-on-error flag")

// DefaultExclusions are crates known to break the harness. They are skipped
// silently unless Config.Exclude overrides the list.
var DefaultExclusions = []string{"gfx_text", "parasailors", "parasail-sys", "simple"}

// TargetDirName is the default build directory under the output root.
const TargetDirName = "results"

// Config controls one batch.
type Config struct {
	OutputRoot    string
	BatchID       string
	RunTests      bool
	RunBenchmarks bool
	Release       bool
	// TargetDir is cargo's build directory. Defaults to OutputRoot/results.
	TargetDir string
	// Force reprocesses packages that already have a captured log.
	Force       bool
	StopOnError bool
	// Exclude replaces DefaultExclusions when non-nil. An empty, non-nil
	// slice excludes nothing.
	Exclude []string
	// Jobs is the number of packages processed at once. Values above one
	// select isolated worker processes.
	Jobs int
}

func (c Config) targetDir() string {
	if c.TargetDir != "" {
		return c.TargetDir
	}
	return filepath.Join(c.OutputRoot, TargetDirName)
}

func (c Config) exclusions() map[string]bool {
	list := c.Exclude
	if list == nil {
		list = DefaultExclusions
	}
	set := make(map[string]bool, len(list))
	for _, name := range list {
		set[name] = true
	}
	return set
}

// Isolated reports whether packages run in worker processes.
func (c Config) Isolated() bool {
	return c.Jobs > 1
}

// Archiver stores a copy of a captured package log.
type Archiver interface {
	ArchiveLog(ctx context.Context, spec string, r io.Reader) (string, error)
}

// Launcher describes how to start isolated workers.
type Launcher struct {
	// Path is the worker executable.
	Path string
	// Args default to the worker's hidden subcommand.
	Args []string
	// Env replaces the inherited environment when non-nil.
	Env []string
	// Template supplies the registry and cargo settings copied into every job.
	Template types.WorkerJobFrame
}

// Deps are the collaborators of an Orchestrator. Only Registry is required,
// plus Builder for guarded mode or Launcher for isolated mode.
type Deps struct {
	Registry registry.Registry
	Builder  builder.Builder
	Launcher *Launcher
	// Results receives package and timing records. Defaults to noop.
	Results policy.Policy
	// Archive, if set, receives a copy of every captured log.
	Archive Archiver
	Metrics *metrics.Collector
	Logger  *log.Logger
	// Notices receives progress lines. Defaults to the pre-guard stdout.
	Notices io.Writer
}

// PackageResult is the outcome of one queued spec.
type PackageResult struct {
	Spec types.CrateSpec
	// Skipped is set when a prior captured log was left in place.
	Skipped     bool
	Package     *types.PackageID
	Status      types.BuildStatus
	FailureKind types.FailureKind
	Err         error
	Outcomes    *types.PhaseOutcomes
	LogPath     string
	Duration    time.Duration

	storageErrors int
}

// Failed reports whether the package ended in StatusFailed.
func (r *PackageResult) Failed() bool {
	return r.Status == types.StatusFailed
}

// Summary describes a finished batch. Results follow queue order.
type Summary struct {
	BatchID   string
	Queued    int
	Excluded  int
	Skipped   int
	Completed int
	Failed    int
	Stopped   bool
	Results   []PackageResult
	// StorageErrors counts result writes that failed.
	StorageErrors int
	Duration      time.Duration
}
