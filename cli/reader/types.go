// Package reader provides the read-side data access layer for the
// cratesio-perf CLI.
//
// This package isolates read operations from the batch internals. The
// inspect and stats commands use it exclusively: the package ledger under
// the output root is authoritative for per-package state, the results
// dataset for batch metrics.
package reader

import (
	"time"

	"github.com/nikomatsakis/cratesio-perf/ledger"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// InspectPackageResponse describes one package directory.
type InspectPackageResponse struct {
	Spec        string            `json:"spec" yaml:"spec"`
	Dir         string            `json:"dir" yaml:"dir"`
	State       ledger.State      `json:"state" yaml:"state"`
	BatchID     string            `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Package     *types.PackageID  `json:"package,omitempty" yaml:"package,omitempty"`
	Status      types.BuildStatus `json:"status,omitempty" yaml:"status,omitempty"`
	FailureKind types.FailureKind `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	Phases      []PhaseRow        `json:"phases" yaml:"phases"`
	LogBytes    int64             `json:"log_bytes" yaml:"log_bytes"`
	Timing      TimingSummary     `json:"timing" yaml:"timing"`
	StartedAt   *time.Time        `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// PhaseRow is one builder phase of an inspected package.
type PhaseRow struct {
	Phase    types.Phase       `json:"phase" yaml:"phase"`
	Status   types.PhaseStatus `json:"status" yaml:"status"`
	Duration time.Duration     `json:"duration_ns" yaml:"duration_ns"`
	Detail   string            `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// TimingSummary is the parsed view of a package's captured log.
type TimingSummary struct {
	OK           bool    `json:"ok" yaml:"ok"`
	Passes       int     `json:"passes" yaml:"passes"`
	TotalSeconds float64 `json:"total_seconds" yaml:"total_seconds"`
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// LedgerStats counts package directories by state.
type LedgerStats struct {
	Total          int              `json:"total" yaml:"total"`
	Completed      int              `json:"completed" yaml:"completed"`
	Failed         int              `json:"failed" yaml:"failed"`
	Interrupted    int              `json:"interrupted" yaml:"interrupted"`
	Parsed         int              `json:"parsed" yaml:"parsed"`
	FailuresByKind map[string]int64 `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`
}

// MetricsSnapshot is the latest batch metrics record from the dataset.
type MetricsSnapshot struct {
	Ts             string `json:"ts" yaml:"ts"`
	BatchID        string `json:"batch_id" yaml:"batch_id"`
	Mode           string `json:"mode" yaml:"mode"`
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`

	PackagesQueued    int64            `json:"packages_queued" yaml:"packages_queued"`
	PackagesExcluded  int64            `json:"packages_excluded" yaml:"packages_excluded"`
	PackagesSkipped   int64            `json:"packages_skipped" yaml:"packages_skipped"`
	PackagesReset     int64            `json:"packages_reset" yaml:"packages_reset"`
	PackagesStarted   int64            `json:"packages_started" yaml:"packages_started"`
	PackagesCompleted int64            `json:"packages_completed" yaml:"packages_completed"`
	PackagesFailed    int64            `json:"packages_failed" yaml:"packages_failed"`
	FailuresByKind    map[string]int64 `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`

	WorkerLaunchSuccess int64 `json:"worker_launch_success" yaml:"worker_launch_success"`
	WorkerLaunchFailure int64 `json:"worker_launch_failure" yaml:"worker_launch_failure"`
	WorkerCrash         int64 `json:"worker_crash" yaml:"worker_crash"`
	IPCDecodeErrors     int64 `json:"ipc_decode_errors" yaml:"ipc_decode_errors"`

	LodeWriteSuccess int64 `json:"lode_write_success" yaml:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure" yaml:"lode_write_failure"`
}
