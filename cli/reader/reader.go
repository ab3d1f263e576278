package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lodelibrary "github.com/justapithecus/lode/lode"

	"github.com/nikomatsakis/cratesio-perf/ledger"
	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/timing"
	"github.com/nikomatsakis/cratesio-perf/types"
)

var (
	// ErrNotFound is returned when a package has no ledger directory.
	ErrNotFound = errors.New("package not found in ledger")
	// ErrNoDataset is returned by dataset-backed queries when no results
	// dataset is configured.
	ErrNoDataset = errors.New("no results dataset configured")
)

// LedgerReader reads the package ledger under an output root and,
// optionally, a results dataset.
type LedgerReader struct {
	ledger  *ledger.Ledger
	dataset lodelibrary.Dataset
}

// NewLedgerReader creates a reader over outputRoot. ds may be nil.
func NewLedgerReader(outputRoot string, ds lodelibrary.Dataset) *LedgerReader {
	return &LedgerReader{ledger: ledger.New(outputRoot), dataset: ds}
}

// InspectPackage describes one package directory.
func (r *LedgerReader) InspectPackage(raw string) (*InspectPackageResponse, error) {
	spec, err := types.ParseCrateSpec(raw)
	if err != nil {
		return nil, err
	}
	dir := r.ledger.Dir(spec)
	state, err := ledger.StateOf(dir)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", spec, err)
	}
	if state == ledger.StateAbsent {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, spec)
	}

	resp := &InspectPackageResponse{
		Spec:   spec.String(),
		Dir:    dir,
		State:  state,
		Phases: []PhaseRow{},
	}
	if info, err := os.Stat(r.ledger.StdioPath(spec)); err == nil {
		resp.LogBytes = info.Size()
	}

	rec, err := timing.ParseFile(r.ledger.StdioPath(spec))
	if err != nil {
		resp.Timing.Error = err.Error()
	} else {
		resp.Timing = TimingSummary{OK: true, Passes: len(rec), TotalSeconds: rec.Total()}
	}

	status, err := ledger.ReadStatus(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return resp, nil
	case err != nil:
		return nil, err
	}
	resp.BatchID = status.BatchID
	resp.Package = status.Package
	resp.Status = status.Status
	resp.FailureKind = status.FailureKind
	resp.Error = status.Error
	if !status.StartedAt.IsZero() {
		resp.StartedAt = &status.StartedAt
	}
	if !status.FinishedAt.IsZero() {
		resp.FinishedAt = &status.FinishedAt
	}
	if o := status.Outcomes; o != nil {
		resp.Phases = append(resp.Phases, phaseRow(o.Compile))
		for _, p := range []*types.PhaseOutcome{o.Test, o.Bench} {
			if p != nil {
				resp.Phases = append(resp.Phases, phaseRow(*p))
			}
		}
	}
	return resp, nil
}

func phaseRow(o types.PhaseOutcome) PhaseRow {
	return PhaseRow{Phase: o.Phase, Status: o.Status, Duration: o.Duration, Detail: o.Detail}
}

// StatsLedger counts every package directory by state.
func (r *LedgerReader) StatsLedger() (*LedgerStats, error) {
	names, err := r.ledger.Entries()
	if err != nil {
		return nil, err
	}
	stats := &LedgerStats{FailuresByKind: map[string]int64{}}
	for _, name := range names {
		dir := filepath.Join(r.ledger.Root(), name)
		state, err := ledger.StateOf(dir)
		if err != nil {
			return nil, err
		}
		switch state {
		case ledger.StateAbsent:
			continue
		case ledger.StateCompleted:
			stats.Completed++
		case ledger.StateFailed:
			stats.Failed++
			if s, err := ledger.ReadStatus(dir); err == nil && s.FailureKind != "" {
				stats.FailuresByKind[string(s.FailureKind)]++
			}
		case ledger.StateInterrupted:
			stats.Interrupted++
		}
		stats.Total++
		if _, err := timing.ParseFile(filepath.Join(dir, ledger.StdioFile)); err == nil {
			stats.Parsed++
		}
	}
	return stats, nil
}

// StatsMetrics returns the latest metrics record from the dataset.
func (r *LedgerReader) StatsMetrics(ctx context.Context, batchID string) (*MetricsSnapshot, error) {
	if r.dataset == nil {
		return nil, ErrNoDataset
	}
	record, err := lode.QueryLatestMetrics(ctx, r.dataset, batchID)
	if err != nil {
		return nil, err
	}
	return ParseMetricsRecord(record)
}

var _ Reader = (*LedgerReader)(nil)
