// Package lode persists batch results into a Lode dataset.
//
// Records are JSONL, Hive-partitioned by day, batch_id and record_kind:
//
//	datasets/<dataset>/partitions/day=<d>/batch_id=<b>/record_kind=<k>/...
//
// Captured package logs are archived beside the dataset as lz4 frames under
// datasets/<dataset>/partitions/day=<d>/batch_id=<b>/logs/.
package lode

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/nikomatsakis/cratesio-perf/metrics"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "cratesio-perf"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"day", "batch_id", "record_kind"}

// DeriveDay computes the partition day from batch start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds result dataset configuration.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// BatchID is the partition key for the batch.
	BatchID string
	// Day is the partition key derived from batch start time.
	Day string
}

// Client persists batch results.
type Client interface {
	// WritePackages records package outcomes in order.
	WritePackages(ctx context.Context, recs []*PackageRecord) error
	// WriteTimings records parsed timing logs, one record per package.
	WriteTimings(ctx context.Context, recs []TimingRecord) error
	// WriteMetrics records the batch metrics snapshot.
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error
	// ArchiveLog compresses a captured log into the store and returns its
	// store path.
	ArchiveLog(ctx context.Context, spec string, r io.Reader) (string, error)
	// Close releases client resources.
	Close() error
}

// StubClient records calls without persisting. Safe for concurrent use.
type StubClient struct {
	mu       sync.Mutex
	Packages []*PackageRecord
	Timings  []TimingRecord
	Metrics  []metrics.Snapshot
	Logs     map[string][]byte
	Closed   bool
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{Logs: make(map[string][]byte)}
}

// WritePackages implements Client.
func (c *StubClient) WritePackages(_ context.Context, recs []*PackageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Packages = append(c.Packages, recs...)
	return nil
}

// WriteTimings implements Client.
func (c *StubClient) WriteTimings(_ context.Context, recs []TimingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Timings = append(c.Timings, recs...)
	return nil
}

// WriteMetrics implements Client.
func (c *StubClient) WriteMetrics(_ context.Context, snap metrics.Snapshot, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Metrics = append(c.Metrics, snap)
	return nil
}

// ArchiveLog implements Client.
func (c *StubClient) ArchiveLog(_ context.Context, spec string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logs[spec] = data
	return "stub/" + spec, nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Verify StubClient implements Client.
var _ Client = (*StubClient)(nil)
