package lode

import (
	"math"
	"time"

	"github.com/nikomatsakis/cratesio-perf/metrics"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// RecordKind discriminator values. Also the record_kind partition.
const (
	RecordKindPackage = "package"
	RecordKindTiming  = "timing"
	RecordKindMetrics = "metrics"
)

// PackageRecord is one package's outcome within a batch.
type PackageRecord struct {
	Spec        string
	Package     *types.PackageID
	Status      types.BuildStatus
	FailureKind types.FailureKind
	Error       string
	Outcomes    *types.PhaseOutcomes
	// LogArchive is the store path of the archived log, if any.
	LogArchive string
	FinishedAt time.Time
}

// TimingRecord is one parsed package log.
type TimingRecord struct {
	// Path is the package directory the log was read from.
	Path    string
	Package string
	OK      bool
	Timings []float64
	// Passes are the durations as captured in the log, parallel to Timings.
	Passes []string
}

func partitionFields(cfg Config, kind string) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"day":         cfg.Day,
		"batch_id":    cfg.BatchID,
	}
}

func phaseFields(m map[string]any, o *types.PhaseOutcome) {
	if o == nil {
		return
	}
	prefix := string(o.Phase)
	m[prefix+"_status"] = string(o.Status)
	m[prefix+"_ms"] = o.Duration.Milliseconds()
	if o.Detail != "" {
		m[prefix+"_detail"] = o.Detail
	}
}

func toPackageRecordMap(r *PackageRecord, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindPackage)
	m["spec"] = r.Spec
	m["status"] = string(r.Status)
	m["ts"] = r.FinishedAt.UTC().Format(time.RFC3339Nano)
	if r.Package != nil {
		m["name"] = r.Package.Name
		m["version"] = r.Package.Version
	}
	if r.FailureKind != "" {
		m["failure_kind"] = string(r.FailureKind)
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.LogArchive != "" {
		m["log_archive"] = r.LogArchive
	}
	if r.Outcomes != nil {
		phaseFields(m, &r.Outcomes.Compile)
		phaseFields(m, r.Outcomes.Test)
		phaseFields(m, r.Outcomes.Bench)
	}
	return m
}

func toTimingRecordMap(r TimingRecord, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindTiming)
	m["path"] = r.Path
	m["package"] = r.Package
	m["ok"] = r.OK
	// JSON has no infinity; overflowed passes are stored as MaxFloat64 and
	// keep their exact text in passes.
	timings := make([]float64, len(r.Timings))
	var total float64
	for i, v := range r.Timings {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			v = math.MaxFloat64
		}
		timings[i] = v
		total += v
	}
	if math.IsInf(total, 0) {
		total = math.MaxFloat64
	}
	passes := r.Passes
	if passes == nil {
		passes = []string{}
	}
	m["timings"] = timings
	m["passes"] = passes
	m["pass_count"] = len(timings)
	m["total_seconds"] = total
	return m
}

func toMetricsRecordMap(s metrics.Snapshot, completedAt time.Time, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindMetrics)
	m["ts"] = completedAt.UTC().Format(time.RFC3339Nano)
	m["started_at"] = s.StartedAt.UTC().Format(time.RFC3339Nano)
	m["mode"] = s.Mode
	m["storage_backend"] = s.StorageBackend

	m["packages_queued"] = s.PackagesQueued
	m["packages_excluded"] = s.PackagesExcluded
	m["packages_skipped"] = s.PackagesSkipped
	m["packages_reset"] = s.PackagesReset
	m["packages_started"] = s.PackagesStarted
	m["packages_completed"] = s.PackagesCompleted
	m["packages_failed"] = s.PackagesFailed
	m["failures_by_kind"] = s.FailuresByKind
	m["phase_outcomes"] = s.PhaseOutcomes
	m["phase_seconds"] = s.PhaseSeconds

	m["worker_launch_success"] = s.WorkerLaunchSuccess
	m["worker_launch_failure"] = s.WorkerLaunchFailure
	m["worker_crash"] = s.WorkerCrash
	m["ipc_decode_errors"] = s.IPCDecodeErrors

	m["lode_write_success"] = s.LodeWriteSuccess
	m["lode_write_failure"] = s.LodeWriteFailure
	return m
}
