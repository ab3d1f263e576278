package reader

import "context"

// Reader abstracts read-only data access for CLI commands.
// Implementations may read the ledger and dataset, or return stubs.
type Reader interface {
	// InspectPackage describes the directory for a `name` or `name=version`
	// specifier. Returns ErrNotFound when no directory exists.
	InspectPackage(spec string) (*InspectPackageResponse, error)

	// StatsLedger counts every package directory by state.
	StatsLedger() (*LedgerStats, error)

	// StatsMetrics returns the latest metrics record, optionally for one
	// batch. Returns ErrNoDataset when no results dataset is configured.
	StatsMetrics(ctx context.Context, batchID string) (*MetricsSnapshot, error)
}
