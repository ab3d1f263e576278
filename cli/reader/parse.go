package reader

import "errors"

// ParseMetricsRecord converts a dataset record to a MetricsSnapshot.
// Handles both int64 (direct writes) and float64 (JSON round-trips) for
// numeric fields.
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		Ts:             toString(record["ts"]),
		BatchID:        toString(record["batch_id"]),
		Mode:           toString(record["mode"]),
		StorageBackend: toString(record["storage_backend"]),

		PackagesQueued:    toInt64(record["packages_queued"]),
		PackagesExcluded:  toInt64(record["packages_excluded"]),
		PackagesSkipped:   toInt64(record["packages_skipped"]),
		PackagesReset:     toInt64(record["packages_reset"]),
		PackagesStarted:   toInt64(record["packages_started"]),
		PackagesCompleted: toInt64(record["packages_completed"]),
		PackagesFailed:    toInt64(record["packages_failed"]),
		FailuresByKind:    toCountMap(record["failures_by_kind"]),

		WorkerLaunchSuccess: toInt64(record["worker_launch_success"]),
		WorkerLaunchFailure: toInt64(record["worker_launch_failure"]),
		WorkerCrash:         toInt64(record["worker_crash"]),
		IPCDecodeErrors:     toInt64(record["ipc_decode_errors"]),

		LodeWriteSuccess: toInt64(record["lode_write_success"]),
		LodeWriteFailure: toInt64(record["lode_write_failure"]),
	}

	// The write path always populates these.
	if snap.Ts == "" {
		return nil, errors.New("metrics record missing required field: ts")
	}
	if snap.BatchID == "" {
		return nil, errors.New("metrics record missing required field: batch_id")
	}
	if snap.Mode == "" {
		return nil, errors.New("metrics record missing required field: mode")
	}
	return snap, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toCountMap handles map[string]int64 (direct) and map[string]any (JSON
// round-trip).
func toCountMap(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		result := make(map[string]int64, len(m))
		for k, val := range m {
			result[k] = toInt64(val)
		}
		return result
	default:
		return nil
	}
}
