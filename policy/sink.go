package policy

import (
	"context"
	"sync"

	"github.com/nikomatsakis/cratesio-perf/lode"
)

// WriteOp is one sink call, recorded by StubSink for ordering checks.
type WriteOp struct {
	Kind     string // "packages" or "timings"
	Packages []*lode.PackageRecord
	Timings  []lode.TimingRecord
}

// StubSink accepts writes without persisting. Set Err to make every write
// fail.
type StubSink struct {
	mu     sync.Mutex
	Err    error
	Ops    []WriteOp
	Closed bool
}

// NewStubSink creates a new stub sink.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WritePackages implements Sink.
func (s *StubSink) WritePackages(_ context.Context, recs []*lode.PackageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Ops = append(s.Ops, WriteOp{Kind: "packages", Packages: append([]*lode.PackageRecord(nil), recs...)})
	return nil
}

// WriteTimings implements Sink.
func (s *StubSink) WriteTimings(_ context.Context, recs []lode.TimingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Ops = append(s.Ops, WriteOp{Kind: "timings", Timings: append([]lode.TimingRecord(nil), recs...)})
	return nil
}

// Close implements Sink.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// SetErr changes the failure injected into subsequent writes.
func (s *StubSink) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// Writes returns a copy of the recorded operations.
func (s *StubSink) Writes() []WriteOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WriteOp(nil), s.Ops...)
}

var (
	_ Sink = (*StubSink)(nil)
	_ Sink = (lode.Client)(nil)
)
