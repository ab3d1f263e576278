package policy_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/policy"
)

func pkg(spec string) *lode.PackageRecord {
	return &lode.PackageRecord{Spec: spec}
}

func TestNew(t *testing.T) {
	sink := policy.NewStubSink()
	tests := []struct {
		name    policy.Name
		wantErr bool
	}{
		{"", false},
		{policy.NameStrict, false},
		{policy.NameBuffered, false},
		{policy.NameNoop, false},
		{"streaming", true},
	}
	for _, tt := range tests {
		_, err := policy.New(tt.name, sink, policy.BufferedConfig{})
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestStrictPolicy_WritesImmediately(t *testing.T) {
	sink := policy.NewStubSink()
	pol := policy.NewStrictPolicy(sink)
	ctx := t.Context()

	if err := pol.RecordPackage(ctx, pkg("a")); err != nil {
		t.Fatalf("RecordPackage: %v", err)
	}
	if err := pol.RecordTiming(ctx, lode.TimingRecord{Package: "a"}); err != nil {
		t.Fatalf("RecordTiming: %v", err)
	}

	writes := sink.Writes()
	if len(writes) != 2 || writes[0].Kind != "packages" || writes[1].Kind != "timings" {
		t.Fatalf("writes = %+v", writes)
	}
	stats := pol.Stats()
	if stats.PackagesPersisted != 1 || stats.TimingsPersisted != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStrictPolicy_ReturnsSinkError(t *testing.T) {
	sink := policy.NewStubSink()
	sink.SetErr(errors.New("disk full"))
	pol := policy.NewStrictPolicy(sink)

	if err := pol.RecordPackage(t.Context(), pkg("a")); err == nil {
		t.Fatal("expected error")
	}
	if stats := pol.Stats(); stats.Errors != 1 || stats.PackagesPersisted != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBufferedPolicy_FlushesWhenFull(t *testing.T) {
	sink := policy.NewStubSink()
	pol, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{MaxBufferRecords: 3})
	if err != nil {
		t.Fatalf("NewBufferedPolicy: %v", err)
	}
	ctx := t.Context()

	_ = pol.RecordPackage(ctx, pkg("a"))
	_ = pol.RecordTiming(ctx, lode.TimingRecord{Package: "a"})
	if len(sink.Writes()) != 0 {
		t.Fatal("nothing should be written before the buffer fills")
	}
	if err := pol.RecordPackage(ctx, pkg("b")); err != nil {
		t.Fatalf("RecordPackage: %v", err)
	}

	writes := sink.Writes()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2", len(writes))
	}
	if len(writes[0].Packages) != 2 || len(writes[1].Timings) != 1 {
		t.Errorf("writes = %+v", writes)
	}
	if stats := pol.Stats(); stats.Buffered != 0 || stats.FlushCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBufferedPolicy_RetriesAfterFailure(t *testing.T) {
	sink := policy.NewStubSink()
	pol, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{MaxBufferRecords: 100})
	if err != nil {
		t.Fatalf("NewBufferedPolicy: %v", err)
	}
	ctx := t.Context()

	_ = pol.RecordPackage(ctx, pkg("a"))
	sink.SetErr(errors.New("throttled"))
	if err := pol.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	if stats := pol.Stats(); stats.Buffered != 1 || stats.Errors != 1 {
		t.Errorf("stats after failure = %+v", stats)
	}

	sink.SetErr(nil)
	if err := pol.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	writes := sink.Writes()
	if len(writes) != 1 || writes[0].Packages[0].Spec != "a" {
		t.Errorf("writes = %+v", writes)
	}
}

func TestBufferedPolicy_CloseFlushes(t *testing.T) {
	sink := policy.NewStubSink()
	pol, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{})
	if err != nil {
		t.Fatalf("NewBufferedPolicy: %v", err)
	}
	_ = pol.RecordTiming(t.Context(), lode.TimingRecord{Package: "x"})
	if err := pol.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.Closed {
		t.Error("sink not closed")
	}
	if len(sink.Writes()) != 1 {
		t.Errorf("writes = %+v", sink.Writes())
	}
}

func TestBufferedPolicy_Concurrent(t *testing.T) {
	sink := policy.NewStubSink()
	pol, err := policy.NewBufferedPolicy(sink, policy.BufferedConfig{MaxBufferRecords: 7})
	if err != nil {
		t.Fatalf("NewBufferedPolicy: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = pol.RecordPackage(ctx, pkg("p"))
				_ = pol.Stats()
			}
		}()
	}
	wg.Wait()
	if err := pol.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var written int
	for _, w := range sink.Writes() {
		written += len(w.Packages)
	}
	if written != 200 {
		t.Errorf("written = %d, want 200", written)
	}
	if stats := pol.Stats(); stats.PackagesPersisted != 200 || stats.Buffered != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestNoopPolicy(t *testing.T) {
	pol := policy.NewNoopPolicy()
	_ = pol.RecordPackage(t.Context(), pkg("a"))
	_ = pol.RecordTiming(t.Context(), lode.TimingRecord{})
	if stats := pol.Stats(); stats.TotalPackages != 1 || stats.TotalTimings != 1 || stats.PackagesPersisted != 0 {
		t.Errorf("stats = %+v", stats)
	}
}
