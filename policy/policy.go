// Package policy controls how per-package results reach the results store.
//
// A batch hands every finished package's outcome record and parsed timing
// record to a Policy. Strict writes each record as it arrives; buffered
// batches records and writes them on flush; noop counts and discards. No
// policy drops a record it accepted: a write failure is returned to the
// caller and the records stay buffered for the next flush.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/nikomatsakis/cratesio-perf/lode"
)

// Name identifies a policy on the command line and in config.
type Name string

const (
	NameStrict   Name = "strict"
	NameBuffered Name = "buffered"
	NameNoop     Name = "noop"
)

// Policy accepts result records for persistence.
type Policy interface {
	// RecordPackage accepts one package outcome.
	RecordPackage(ctx context.Context, rec *lode.PackageRecord) error
	// RecordTiming accepts one parsed timing log.
	RecordTiming(ctx context.Context, rec lode.TimingRecord) error
	// Flush writes anything buffered.
	Flush(ctx context.Context) error
	// Close flushes and releases the sink.
	Close() error
	// Stats returns a consistent snapshot of the policy counters.
	Stats() Stats
}

// Sink is the write side of the results store.
type Sink interface {
	WritePackages(ctx context.Context, recs []*lode.PackageRecord) error
	WriteTimings(ctx context.Context, recs []lode.TimingRecord) error
	Close() error
}

// Stats are policy counters.
type Stats struct {
	TotalPackages     int64
	PackagesPersisted int64
	TotalTimings      int64
	TimingsPersisted  int64
	// Buffered is the number of records waiting for a flush.
	Buffered   int64
	FlushCount int64
	Errors     int64
}

// New builds the named policy over sink. buffered configures the buffered
// policy and is ignored by the others.
func New(name Name, sink Sink, buffered BufferedConfig) (Policy, error) {
	switch name {
	case NameStrict, "":
		return NewStrictPolicy(sink), nil
	case NameBuffered:
		return NewBufferedPolicy(sink, buffered)
	case NameNoop:
		return NewNoopPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy %q (want strict, buffered or noop)", name)
	}
}

// statsRecorder guards Stats behind a mutex.
type statsRecorder struct {
	mu sync.Mutex
	s  Stats
}

func (r *statsRecorder) update(fn func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.s)
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}
