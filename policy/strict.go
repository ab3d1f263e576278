package policy

import (
	"context"

	"github.com/nikomatsakis/cratesio-perf/lode"
)

// StrictPolicy writes every record immediately. The caller blocks on sink
// latency and sees each write error.
type StrictPolicy struct {
	sink  Sink
	stats statsRecorder
}

// NewStrictPolicy creates a new strict policy writing to the given sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink}
}

// RecordPackage writes rec as a batch of one.
func (p *StrictPolicy) RecordPackage(ctx context.Context, rec *lode.PackageRecord) error {
	p.stats.update(func(s *Stats) { s.TotalPackages++ })
	if err := p.sink.WritePackages(ctx, []*lode.PackageRecord{rec}); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return err
	}
	p.stats.update(func(s *Stats) { s.PackagesPersisted++ })
	return nil
}

// RecordTiming writes rec as a batch of one.
func (p *StrictPolicy) RecordTiming(ctx context.Context, rec lode.TimingRecord) error {
	p.stats.update(func(s *Stats) { s.TotalTimings++ })
	if err := p.sink.WriteTimings(ctx, []lode.TimingRecord{rec}); err != nil {
		p.stats.update(func(s *Stats) { s.Errors++ })
		return err
	}
	p.stats.update(func(s *Stats) { s.TimingsPersisted++ })
	return nil
}

// Flush only counts; nothing is buffered.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.update(func(s *Stats) { s.FlushCount++ })
	return nil
}

// Close closes the underlying sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
