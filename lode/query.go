package lode

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// QueryLatestMetrics finds the most recent metrics record, optionally
// restricted to one batch.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, batchID string) (map[string]any, error) {
	var found map[string]any
	err := scanLatestFirst(ctx, ds, RecordKindMetrics, batchID, func(record map[string]any) bool {
		found = record
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNoMetricsFound
	}
	return found, nil
}

// QueryPackages returns every package record, newest snapshot first,
// optionally restricted to one batch.
func QueryPackages(ctx context.Context, ds lode.Dataset, batchID string) ([]map[string]any, error) {
	var out []map[string]any
	err := scanLatestFirst(ctx, ds, RecordKindPackage, batchID, func(record map[string]any) bool {
		out = append(out, record)
		return true
	})
	return out, err
}

// scanLatestFirst walks snapshots newest first, calling fn for each record
// of kind until fn returns false. Manifest paths are a coarse pre-filter;
// record fields are authoritative.
func scanLatestFirst(ctx context.Context, ds lode.Dataset, kind, batchID string, fn func(map[string]any) bool) error {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return WrapReadError(err, "snapshots")
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", kind) {
			continue
		}
		if !snapshotMatchesFilter(snap, "batch_id", batchID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if record["record_kind"] != kind {
				continue
			}
			if batchID != "" && toString(record["batch_id"]) != batchID {
				continue
			}
			if !fn(record) {
				return nil
			}
		}
	}
	return nil
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
