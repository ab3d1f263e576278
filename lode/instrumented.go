package lode

import (
	"context"
	"io"
	"time"

	"github.com/nikomatsakis/cratesio-perf/metrics"
)

// InstrumentedClient wraps a Client and counts write calls on a metrics
// collector. Each call increments lode_write_success or lode_write_failure.
type InstrumentedClient struct {
	inner     Client
	collector *metrics.Collector
}

// NewInstrumentedClient wraps a client with metrics instrumentation.
func NewInstrumentedClient(inner Client, collector *metrics.Collector) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, collector: collector}
}

func (c *InstrumentedClient) record(err error) error {
	if err != nil {
		c.collector.IncLodeWriteFailure()
	} else {
		c.collector.IncLodeWriteSuccess()
	}
	return err
}

// WritePackages delegates and records the outcome.
func (c *InstrumentedClient) WritePackages(ctx context.Context, recs []*PackageRecord) error {
	return c.record(c.inner.WritePackages(ctx, recs))
}

// WriteTimings delegates and records the outcome.
func (c *InstrumentedClient) WriteTimings(ctx context.Context, recs []TimingRecord) error {
	return c.record(c.inner.WriteTimings(ctx, recs))
}

// WriteMetrics delegates without counting, so the snapshot it writes stays
// consistent with the counters it carries.
func (c *InstrumentedClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	return c.inner.WriteMetrics(ctx, snap, completedAt)
}

// ArchiveLog delegates and records the outcome.
func (c *InstrumentedClient) ArchiveLog(ctx context.Context, spec string, r io.Reader) (string, error) {
	path, err := c.inner.ArchiveLog(ctx, spec, r)
	return path, c.record(err)
}

// Close delegates to the inner client.
func (c *InstrumentedClient) Close() error {
	return c.inner.Close()
}

// Verify InstrumentedClient implements Client.
var _ Client = (*InstrumentedClient)(nil)
