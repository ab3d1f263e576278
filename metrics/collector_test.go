package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("guarded", "fs", "batch-001")

	c.AddQueued(5)
	c.IncExcluded()
	c.IncSkipped()
	c.IncSkipped()
	c.IncReset()
	c.IncStarted()
	c.IncStarted()
	c.IncCompleted()
	c.IncFailed("not_found")
	c.IncWorkerLaunchSuccess()
	c.IncWorkerLaunchFailure()
	c.IncWorkerCrash()
	c.IncIPCDecodeErrors()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"PackagesQueued", s.PackagesQueued, 5},
		{"PackagesExcluded", s.PackagesExcluded, 1},
		{"PackagesSkipped", s.PackagesSkipped, 2},
		{"PackagesReset", s.PackagesReset, 1},
		{"PackagesStarted", s.PackagesStarted, 2},
		{"PackagesCompleted", s.PackagesCompleted, 1},
		{"PackagesFailed", s.PackagesFailed, 1},
		{"FailuresByKind[not_found]", s.FailuresByKind["not_found"], 1},
		{"WorkerLaunchSuccess", s.WorkerLaunchSuccess, 1},
		{"WorkerLaunchFailure", s.WorkerLaunchFailure, 1},
		{"WorkerCrash", s.WorkerCrash, 1},
		{"IPCDecodeErrors", s.IPCDecodeErrors, 1},
		{"LodeWriteSuccess", s.LodeWriteSuccess, 2},
		{"LodeWriteFailure", s.LodeWriteFailure, 1},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, tc.got, tc.want)
		}
	}

	if s.Mode != "guarded" || s.StorageBackend != "fs" || s.BatchID != "batch-001" {
		t.Errorf("dimensions = %q %q %q", s.Mode, s.StorageBackend, s.BatchID)
	}
	if s.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
}

func TestCollector_ObservePhase(t *testing.T) {
	c := NewCollector("guarded", "", "b")

	c.ObservePhase("compile", "passed", 2*time.Second)
	c.ObservePhase("compile", "failed", time.Second)
	c.ObservePhase("test", "tests_failed", 500*time.Millisecond)

	s := c.Snapshot()
	if s.PhaseOutcomes["compile"]["passed"] != 1 || s.PhaseOutcomes["compile"]["failed"] != 1 {
		t.Errorf("compile outcomes = %v", s.PhaseOutcomes["compile"])
	}
	if s.PhaseSeconds["compile"] != 3 {
		t.Errorf("compile seconds = %v, want 3", s.PhaseSeconds["compile"])
	}
	if s.PhaseSeconds["test"] != 0.5 {
		t.Errorf("test seconds = %v, want 0.5", s.PhaseSeconds["test"])
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("guarded", "", "b")
	c.IncFailed("setup")
	c.ObservePhase("compile", "passed", time.Second)

	s := c.Snapshot()
	s.FailuresByKind["setup"] = 99
	s.PhaseOutcomes["compile"]["passed"] = 99

	s2 := c.Snapshot()
	if s2.FailuresByKind["setup"] != 1 {
		t.Error("snapshot map aliases collector state")
	}
	if s2.PhaseOutcomes["compile"]["passed"] != 1 {
		t.Error("snapshot nested map aliases collector state")
	}
}

func TestCollector_NilReceiver(t *testing.T) {
	var c *Collector
	c.AddQueued(1)
	c.IncExcluded()
	c.IncSkipped()
	c.IncReset()
	c.IncStarted()
	c.IncCompleted()
	c.IncFailed("x")
	c.ObservePhase("compile", "passed", time.Second)
	c.IncWorkerLaunchSuccess()
	c.IncWorkerLaunchFailure()
	c.IncWorkerCrash()
	c.IncIPCDecodeErrors()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteFailure()

	if s := c.Snapshot(); s.PackagesStarted != 0 {
		t.Errorf("nil snapshot = %+v", s)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector("isolated", "", "b")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncStarted()
			c.IncFailed("download_failed")
			c.ObservePhase("compile", "passed", time.Millisecond)
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.PackagesStarted != 50 || s.FailuresByKind["download_failed"] != 50 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.PhaseOutcomes["compile"]["passed"] != 50 {
		t.Errorf("phase outcomes = %v", s.PhaseOutcomes)
	}
}
