package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/log"
)

// DefaultMaxBufferRecords bounds the buffered policy when no limit is given.
const DefaultMaxBufferRecords = 256

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferRecords triggers a flush once this many records are waiting.
	// Zero or negative selects DefaultMaxBufferRecords.
	MaxBufferRecords int
	// Logger is optional; flush failures are logged when set.
	Logger *log.Logger
}

// BufferedPolicy batches records and writes them on flush.
//
// Each buffer is cleared independently once its write succeeds, so a failed
// flush retries only what did not land. Records that arrive while a flush is
// in flight stay buffered for the next one.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	flushMu  sync.Mutex // one flush at a time
	mu       sync.Mutex // guards the buffers
	packages []*lode.PackageRecord
	timings  []lode.TimingRecord
	stats    statsRecorder
}

// NewBufferedPolicy creates a new buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if sink == nil {
		return nil, errors.New("buffered policy requires a sink")
	}
	if config.MaxBufferRecords <= 0 {
		config.MaxBufferRecords = DefaultMaxBufferRecords
	}
	return &BufferedPolicy{sink: sink, config: config, logger: config.Logger}, nil
}

// RecordPackage buffers rec, flushing if the buffer is full.
func (p *BufferedPolicy) RecordPackage(ctx context.Context, rec *lode.PackageRecord) error {
	p.mu.Lock()
	p.packages = append(p.packages, rec)
	full := p.lenLocked() >= p.config.MaxBufferRecords
	p.mu.Unlock()
	p.stats.update(func(s *Stats) {
		s.TotalPackages++
		s.Buffered++
	})
	if full {
		return p.Flush(ctx)
	}
	return nil
}

// RecordTiming buffers rec, flushing if the buffer is full.
func (p *BufferedPolicy) RecordTiming(ctx context.Context, rec lode.TimingRecord) error {
	p.mu.Lock()
	p.timings = append(p.timings, rec)
	full := p.lenLocked() >= p.config.MaxBufferRecords
	p.mu.Unlock()
	p.stats.update(func(s *Stats) {
		s.TotalTimings++
		s.Buffered++
	})
	if full {
		return p.Flush(ctx)
	}
	return nil
}

func (p *BufferedPolicy) lenLocked() int {
	return len(p.packages) + len(p.timings)
}

// Flush writes buffered package records, then buffered timing records.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.stats.update(func(s *Stats) { s.FlushCount++ })

	p.mu.Lock()
	packages := p.packages
	timings := p.timings
	p.mu.Unlock()

	if len(packages) > 0 {
		if err := p.sink.WritePackages(ctx, packages); err != nil {
			p.fail("packages", err)
			return err
		}
		p.mu.Lock()
		p.packages = p.packages[len(packages):]
		p.mu.Unlock()
		p.stats.update(func(s *Stats) {
			s.PackagesPersisted += int64(len(packages))
			s.Buffered -= int64(len(packages))
		})
	}

	if len(timings) > 0 {
		if err := p.sink.WriteTimings(ctx, timings); err != nil {
			p.fail("timings", err)
			return err
		}
		p.mu.Lock()
		p.timings = p.timings[len(timings):]
		p.mu.Unlock()
		p.stats.update(func(s *Stats) {
			s.TimingsPersisted += int64(len(timings))
			s.Buffered -= int64(len(timings))
		})
	}
	return nil
}

func (p *BufferedPolicy) fail(buffer string, err error) {
	p.stats.update(func(s *Stats) { s.Errors++ })
	if p.logger != nil {
		p.logger.Error("results flush failed", map[string]any{
			"buffer": buffer,
			"error":  err.Error(),
		})
	}
}

// Close flushes remaining records and closes the sink. A flush failure is
// returned after the sink is closed.
func (p *BufferedPolicy) Close() error {
	flushErr := p.Flush(context.Background())
	closeErr := p.sink.Close()
	return errors.Join(flushErr, closeErr)
}

// Stats returns policy statistics.
func (p *BufferedPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*BufferedPolicy)(nil)
