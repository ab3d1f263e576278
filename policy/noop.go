package policy

import (
	"context"

	"github.com/nikomatsakis/cratesio-perf/lode"
)

// NoopPolicy counts records and discards them. Used when no results store
// is configured.
type NoopPolicy struct {
	stats statsRecorder
}

// NewNoopPolicy creates a new no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{}
}

// RecordPackage counts and discards.
func (p *NoopPolicy) RecordPackage(_ context.Context, _ *lode.PackageRecord) error {
	p.stats.update(func(s *Stats) { s.TotalPackages++ })
	return nil
}

// RecordTiming counts and discards.
func (p *NoopPolicy) RecordTiming(_ context.Context, _ lode.TimingRecord) error {
	p.stats.update(func(s *Stats) { s.TotalTimings++ })
	return nil
}

// Flush counts.
func (p *NoopPolicy) Flush(_ context.Context) error {
	p.stats.update(func(s *Stats) { s.FlushCount++ })
	return nil
}

// Close is a no-op.
func (p *NoopPolicy) Close() error { return nil }

// Stats returns policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*NoopPolicy)(nil)
