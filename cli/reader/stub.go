package reader

import (
	"context"
	"time"

	"github.com/nikomatsakis/cratesio-perf/ledger"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// StubReader returns shape-correct fixed data for renderer and TUI tests.
type StubReader struct{}

// NewStubReader creates a new stub reader.
func NewStubReader() *StubReader {
	return &StubReader{}
}

// InspectPackage returns a completed package with all phases passed.
func (r *StubReader) InspectPackage(spec string) (*InspectPackageResponse, error) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(42 * time.Second)
	return &InspectPackageResponse{
		Spec:    spec,
		Dir:     "out/output/" + spec,
		State:   ledger.StateCompleted,
		BatchID: "stub-batch-001",
		Package: &types.PackageID{Name: spec, Version: "1.0.0"},
		Status:  types.StatusDone,
		Phases: []PhaseRow{
			{Phase: types.PhaseCompile, Status: types.PhasePassed, Duration: 30 * time.Second},
			{Phase: types.PhaseTest, Status: types.PhasePassed, Duration: 12 * time.Second},
		},
		LogBytes:   20480,
		Timing:     TimingSummary{OK: true, Passes: 3, TotalSeconds: 1.75},
		StartedAt:  &started,
		FinishedAt: &finished,
	}, nil
}

// StatsLedger returns fixed ledger counts.
func (r *StubReader) StatsLedger() (*LedgerStats, error) {
	return &LedgerStats{
		Total:          10,
		Completed:      7,
		Failed:         2,
		Interrupted:    1,
		Parsed:         6,
		FailuresByKind: map[string]int64{"not_found": 1, "download_failed": 1},
	}, nil
}

// StatsMetrics returns a fixed metrics snapshot.
func (r *StubReader) StatsMetrics(_ context.Context, batchID string) (*MetricsSnapshot, error) {
	if batchID == "" {
		batchID = "stub-batch-001"
	}
	return &MetricsSnapshot{
		Ts:                "2026-03-01T12:00:00Z",
		BatchID:           batchID,
		Mode:              "guarded",
		StorageBackend:    "fs",
		PackagesQueued:    10,
		PackagesExcluded:  1,
		PackagesSkipped:   2,
		PackagesStarted:   7,
		PackagesCompleted: 6,
		PackagesFailed:    1,
		FailuresByKind:    map[string]int64{"not_found": 1},
		LodeWriteSuccess:  14,
	}, nil
}

var _ Reader = (*StubReader)(nil)
