package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nikomatsakis/cratesio-perf/types"
)

func mustSpec(t *testing.T, tok string) types.CrateSpec {
	t.Helper()
	spec, err := types.ParseCrateSpec(tok)
	if err != nil {
		t.Fatalf("ParseCrateSpec(%q): %v", tok, err)
	}
	return spec
}

func TestLedger_Paths(t *testing.T) {
	l := New("/data")
	spec := mustSpec(t, "serde=1.0.0")

	if got, want := l.Dir(spec), filepath.Join("/data", "output", "serde=1.0.0"); got != want {
		t.Errorf("Dir() = %q, want %q", got, want)
	}
	if got, want := l.StdioPath(spec), filepath.Join("/data", "output", "serde=1.0.0", "stdio"); got != want {
		t.Errorf("StdioPath() = %q, want %q", got, want)
	}
}

func TestLedger_CompletedTracksStdioPresence(t *testing.T) {
	l := New(t.TempDir())
	spec := mustSpec(t, "regex")

	done, err := l.Completed(spec)
	if err != nil || done {
		t.Fatalf("Completed() = %v, %v; want false, nil", done, err)
	}

	// A directory without stdio is not a completed attempt.
	stdio, err := l.Prepare(spec)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if done, _ := l.Completed(spec); done {
		t.Error("Completed() = true for directory without stdio")
	}

	if err := os.WriteFile(stdio, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if done, _ := l.Completed(spec); !done {
		t.Error("Completed() = false after stdio written")
	}

	if err := l.Reset(spec); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := os.Stat(l.Dir(spec)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected dir removed, stat err = %v", err)
	}
}

func TestLedger_StatusRoundTripAndState(t *testing.T) {
	l := New(t.TempDir())
	spec := mustSpec(t, "log")

	stdio, err := l.Prepare(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stdio, []byte("OK\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	state, err := StateOf(l.Dir(spec))
	if err != nil || state != StateInterrupted {
		t.Fatalf("StateOf() = %v, %v; want interrupted", state, err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := &Status{
		Spec:    "log",
		BatchID: "batch-1",
		Package: &types.PackageID{Name: "log", Version: "0.4.20"},
		Status:  types.StatusDone,
		Outcomes: &types.PhaseOutcomes{
			Compile: types.PhaseOutcome{Phase: types.PhaseCompile, Status: types.PhasePassed},
		},
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}
	if err := l.WriteStatus(spec, want); err != nil {
		t.Fatalf("WriteStatus failed: %v", err)
	}

	got, err := ReadStatus(l.Dir(spec))
	if err != nil {
		t.Fatalf("ReadStatus failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadStatus() = %+v, want %+v", got, want)
	}

	state, _ = StateOf(l.Dir(spec))
	if state != StateCompleted {
		t.Errorf("StateOf() = %v, want completed", state)
	}

	want.Status = types.StatusFailed
	want.FailureKind = types.FailureNotFound
	if err := l.WriteStatus(spec, want); err != nil {
		t.Fatal(err)
	}
	state, _ = StateOf(l.Dir(spec))
	if state != StateFailed {
		t.Errorf("StateOf() = %v, want failed", state)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(l.Dir(spec))
	if len(entries) != 2 {
		t.Errorf("expected stdio and status.json only, got %d entries", len(entries))
	}
}

func TestStateOf_Absent(t *testing.T) {
	state, err := StateOf(filepath.Join(t.TempDir(), "nothing"))
	if err != nil || state != StateAbsent {
		t.Errorf("StateOf() = %v, %v; want absent", state, err)
	}
}

func TestLedger_Entries(t *testing.T) {
	l := New(t.TempDir())

	names, err := l.Entries()
	if err != nil || len(names) != 0 {
		t.Fatalf("Entries() on empty root = %v, %v", names, err)
	}

	for _, tok := range []string{"zeta", "alpha=1.0.0", "mid"} {
		if _, err := l.Prepare(mustSpec(t, tok)); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(l.Root(), "stray-file"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	names, err = l.Entries()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha=1.0.0", "mid", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Entries() = %v, want %v", names, want)
	}
}
