package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nikomatsakis/cratesio-perf/builder"
	"github.com/nikomatsakis/cratesio-perf/ledger"
	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/metrics"
	"github.com/nikomatsakis/cratesio-perf/policy"
	"github.com/nikomatsakis/cratesio-perf/registry"
	"github.com/nikomatsakis/cratesio-perf/timing"
	"github.com/nikomatsakis/cratesio-perf/types"
	"github.com/nikomatsakis/cratesio-perf/worker"
)

const helperEnv = "CRATESIO_PERF_BATCH_WORKER"

// TestMain doubles as the isolated worker executable.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "" {
		os.Exit(m.Run())
	}
	handler := WorkerHandler(
		func(*types.WorkerJobFrame) (registry.Registry, error) { return newFakeRegistry(), nil },
		func(*types.WorkerJobFrame) builder.Builder { return &fakeBuilder{} },
	)
	results := os.NewFile(worker.ResultFD, "results")
	os.Exit(worker.Serve(context.Background(), os.Stdin, results, os.Stdout, handler))
}

type fakeRegistry struct {
	versions map[string][]string

	mu      sync.Mutex
	queried []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{versions: map[string][]string{
		"serde":  {"1.0.0", "1.0.200"},
		"log":    {"0.4.20"},
		"simple": {"0.1.0"},
		"broken": {"0.1.0"},
	}}
}

func (f *fakeRegistry) Names(context.Context) ([]string, error) {
	var names []string
	for n := range f.versions {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (f *fakeRegistry) Query(_ context.Context, name string) ([]types.PackageID, error) {
	f.mu.Lock()
	f.queried = append(f.queried, name)
	f.mu.Unlock()

	var out []types.PackageID
	for _, v := range f.versions[name] {
		out = append(out, types.PackageID{Name: name, Version: v})
	}
	return out, nil
}

func (f *fakeRegistry) queriedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.queried)
}

func (f *fakeRegistry) Download(_ context.Context, id types.PackageID) (*types.ResolvedPackage, error) {
	if id.Name == "broken" {
		return nil, errors.New("connection reset")
	}
	return &types.ResolvedPackage{ID: id, DisplayName: id.String()}, nil
}

// fakeBuilder prints compiler-style timing lines to the process's stdout,
// the way rustc does under -Z time-passes.
type fakeBuilder struct {
	mu       sync.Mutex
	compiled []string
}

func (f *fakeBuilder) Compile(_ context.Context, pkg *types.ResolvedPackage, _ builder.Options) error {
	f.mu.Lock()
	f.compiled = append(f.compiled, pkg.ID.Name)
	f.mu.Unlock()
	fmt.Fprintln(os.Stdout, "time: 0.250; rss: 10MB\tparsing")
	fmt.Fprintln(os.Stderr, "time: 1.000; rss: 12MB\ttype checking")
	return nil
}

func (f *fakeBuilder) Test(context.Context, *types.ResolvedPackage, builder.Options) error {
	return nil
}

func (f *fakeBuilder) Bench(context.Context, *types.ResolvedPackage, builder.Options) error {
	return &builder.PackageFailure{Phase: types.PhaseBench, Err: errors.New("error: bench failed")}
}

func (f *fakeBuilder) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.compiled)
}

type fixture struct {
	cfg     Config
	deps    Deps
	reg     *fakeRegistry
	b       *fakeBuilder
	notices *bytes.Buffer
	sink    *policy.StubSink
	archive *lode.StubClient
	metrics *metrics.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cfg:     Config{OutputRoot: t.TempDir(), BatchID: "batch-test"},
		reg:     newFakeRegistry(),
		b:       &fakeBuilder{},
		notices: &bytes.Buffer{},
		sink:    policy.NewStubSink(),
		archive: lode.NewStubClient(),
		metrics: metrics.NewCollector("guarded", "memory", "batch-test"),
	}
	f.deps = Deps{
		Registry: f.reg,
		Builder:  f.b,
		Results:  policy.NewStrictPolicy(f.sink),
		Archive:  f.archive,
		Metrics:  f.metrics,
		Notices:  f.notices,
	}
	return f
}

func (f *fixture) run(t *testing.T, inputs ...string) (*Summary, error) {
	t.Helper()
	o, err := New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o.Run(t.Context(), inputs)
}

func TestRun_GuardedCapturesAndRecords(t *testing.T) {
	f := newFixture(t)
	f.cfg.RunTests = true

	sum, err := f.run(t, "serde", "log=0.4.20")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Queued != 2 || sum.Completed != 2 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if got := sum.Results[0].Package.Version; got != "1.0.200" {
		t.Errorf("serde resolved to %s, want 1.0.200", got)
	}

	l := ledger.New(f.cfg.OutputRoot)
	serde := types.CrateSpec{Name: "serde"}
	stdio, err := os.ReadFile(l.StdioPath(serde))
	if err != nil {
		t.Fatalf("read stdio: %v", err)
	}
	for _, want := range []string{"time: 0.250", "time: 1.000", "> compile passed for `serde v1.0.200`", "OK", "> tests passed"} {
		if !strings.Contains(string(stdio), want) {
			t.Errorf("stdio missing %q:\n%s", want, stdio)
		}
	}
	if strings.Contains(f.notices.String(), "time:") {
		t.Error("package output leaked into notices")
	}

	rec, err := timing.ParseFile(l.StdioPath(serde))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rec) != 2 || rec[0].Seconds != 0.25 || rec[1].Seconds != 1.0 {
		t.Errorf("timings = %v", rec)
	}

	st, err := ledger.ReadStatus(l.Dir(serde))
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if st.Status != types.StatusDone || st.BatchID != "batch-test" || st.Outcomes == nil || st.Outcomes.Test == nil {
		t.Errorf("status = %+v", st)
	}

	wantNotice := fmt.Sprintf("serde: building and storing results in %s\n", l.Dir(serde))
	if !strings.Contains(f.notices.String(), wantNotice) {
		t.Errorf("notices = %q", f.notices.String())
	}

	var pkgs, timings int
	for _, w := range f.sink.Writes() {
		pkgs += len(w.Packages)
		for _, tr := range w.Timings {
			timings++
			if !tr.OK {
				t.Errorf("timing record %s not OK", tr.Package)
			}
		}
	}
	if pkgs != 2 || timings != 2 {
		t.Errorf("records: %d packages, %d timings", pkgs, timings)
	}
	if len(f.archive.Logs) != 2 || !bytes.Contains(f.archive.Logs["serde"], []byte("time: 0.250")) {
		t.Errorf("archived logs = %v", f.archive.Logs)
	}

	snap := f.metrics.Snapshot()
	if snap.PackagesCompleted != 2 || snap.PackagesStarted != 2 {
		t.Errorf("metrics = %+v", snap)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestRun_SkipsThenForces(t *testing.T) {
	f := newFixture(t)
	l := ledger.New(f.cfg.OutputRoot)
	serde := types.CrateSpec{Name: "serde"}

	if _, err := f.run(t, "serde"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstLog := readFile(t, l.StdioPath(serde))

	f.notices.Reset()
	sum, err := f.run(t, "serde")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Skipped != 1 || sum.Completed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if f.notices.String() != "serde: skipping\n" {
		t.Errorf("notices = %q", f.notices.String())
	}
	if got := f.b.names(); len(got) != 1 {
		t.Errorf("compiled = %v, want one build", got)
	}
	if got := readFile(t, l.StdioPath(serde)); !bytes.Equal(got, firstLog) {
		t.Errorf("skipped run changed the log:\nbefore %q\nafter  %q", firstLog, got)
	}

	stale := filepath.Join(l.Dir(serde), "stale.txt")
	if err := os.WriteFile(stale, []byte("left over"), 0o644); err != nil {
		t.Fatal(err)
	}

	f.notices.Reset()
	f.cfg.Force = true
	sum, err = f.run(t, "serde")
	if err != nil {
		t.Fatalf("forced Run: %v", err)
	}
	if sum.Completed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if !strings.HasPrefix(f.notices.String(), "serde: removing prior results\n") {
		t.Errorf("notices = %q", f.notices.String())
	}
	if got := f.b.names(); len(got) != 2 {
		t.Errorf("compiled = %v, want two builds", got)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("forced run kept stale file: %v", err)
	}
	forcedLog := readFile(t, l.StdioPath(serde))
	if n := bytes.Count(forcedLog, []byte("time: 0.250")); n != 1 {
		t.Errorf("forced log holds %d attempts, want only the new one:\n%s", n, forcedLog)
	}
}

func TestRun_ExclusionsAreSilent(t *testing.T) {
	f := newFixture(t)
	sum, err := f.run(t, "simple", "log")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Excluded != 1 || sum.Queued != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if strings.Contains(f.notices.String(), "simple") {
		t.Errorf("excluded package produced a notice: %q", f.notices.String())
	}
	if _, err := os.Stat(filepath.Join(f.cfg.OutputRoot, "output", "simple")); !os.IsNotExist(err) {
		t.Error("excluded package got an output directory")
	}
	if q := f.reg.queriedNames(); slices.Contains(q, "simple") || !slices.Equal(q, []string{"log"}) {
		t.Errorf("registry queried for %v, want only [log]", q)
	}

	f.cfg.Exclude = []string{}
	sum, err = f.run(t, "simple")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Excluded != 0 || sum.Completed != 1 {
		t.Errorf("with empty exclusions, summary = %+v", sum)
	}
}

func TestRun_FailureContinues(t *testing.T) {
	f := newFixture(t)
	sum, err := f.run(t, "missing", "broken", "log")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 2 || sum.Completed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.Results[0].FailureKind != types.FailureNotFound {
		t.Errorf("missing kind = %s", sum.Results[0].FailureKind)
	}
	if sum.Results[1].FailureKind != types.FailureDownload {
		t.Errorf("broken kind = %s", sum.Results[1].FailureKind)
	}
	if !strings.Contains(f.notices.String(), "missing: failed because of `crate `missing` not in registry`\n") {
		t.Errorf("notices = %q", f.notices.String())
	}

	l := ledger.New(f.cfg.OutputRoot)
	state, err := ledger.StateOf(l.Dir(types.CrateSpec{Name: "missing"}))
	if err != nil || state != ledger.StateFailed {
		t.Errorf("state = %s, %v", state, err)
	}
	if snap := f.metrics.Snapshot(); snap.FailuresByKind[string(types.FailureNotFound)] != 1 {
		t.Errorf("failures = %v", snap.FailuresByKind)
	}

	// a failed attempt still counts as processed
	f.notices.Reset()
	sum, err = f.run(t, "missing")
	if err != nil || sum.Skipped != 1 {
		t.Errorf("rerun: summary = %+v, err = %v", sum, err)
	}
}

func TestRun_StopOnError(t *testing.T) {
	f := newFixture(t)
	f.cfg.StopOnError = true

	sum, err := f.run(t, "missing", "log")
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if !sum.Stopped || sum.Failed != 1 || len(sum.Results) != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if !strings.HasSuffix(f.notices.String(), "aborting due to --stop-on-error flag\n") {
		t.Errorf("notices = %q", f.notices.String())
	}
	if len(f.b.names()) != 0 {
		t.Error("later packages were built after the stop")
	}
}

func TestRun_EmptyQueue(t *testing.T) {
	f := newFixture(t)
	sum, err := f.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Queued != 0 || len(sum.Results) != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRun_MalformedTokenAbortsBeforeWork(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t, "log", "=1.0"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := os.Stat(filepath.Join(f.cfg.OutputRoot, "output")); !os.IsNotExist(err) {
		t.Error("work started despite a malformed token")
	}
}

func TestRun_Wildcard(t *testing.T) {
	f := newFixture(t)
	o, err := New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	specs, excluded, err := o.Queue(t.Context(), []string{"*"})
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "broken,log,serde" || excluded != 1 {
		t.Errorf("queue = %v, excluded %d", names, excluded)
	}

	if _, err := o.Run(t.Context(), []string{"*"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q := f.reg.queriedNames(); slices.Contains(q, "simple") {
		t.Errorf("deny-listed name reached the registry: %v", q)
	}
}

func TestRun_Isolated(t *testing.T) {
	f := newFixture(t)
	f.cfg.Jobs = 2
	f.cfg.RunBenchmarks = true
	f.deps.Builder = nil
	f.deps.Launcher = &Launcher{
		Path: os.Args[0],
		Args: []string{"-test.run=^$"},
		Env:  append(os.Environ(), helperEnv+"=1"),
	}

	sum, err := f.run(t, "serde", "missing", "log")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Completed != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	order := []string{sum.Results[0].Spec.Name, sum.Results[1].Spec.Name, sum.Results[2].Spec.Name}
	if strings.Join(order, ",") != "serde,missing,log" {
		t.Errorf("result order = %v", order)
	}
	if sum.Results[1].FailureKind != types.FailureNotFound {
		t.Errorf("missing = %+v", sum.Results[1])
	}
	bench := sum.Results[0].Outcomes.Bench
	if bench == nil || bench.Status != types.PhaseTestsFailed {
		t.Errorf("bench outcome = %+v", bench)
	}

	l := ledger.New(f.cfg.OutputRoot)
	rec, err := timing.ParseFile(l.StdioPath(types.CrateSpec{Name: "log"}))
	if err != nil || len(rec) != 2 {
		t.Errorf("log timings = %v, %v", rec, err)
	}
	if snap := f.metrics.Snapshot(); snap.WorkerLaunchSuccess != 3 {
		t.Errorf("worker launches = %d", snap.WorkerLaunchSuccess)
	}
}

func TestNew_Validation(t *testing.T) {
	reg := newFakeRegistry()
	tests := []struct {
		name string
		cfg  Config
		deps Deps
	}{
		{"no output root", Config{}, Deps{Registry: reg, Builder: &fakeBuilder{}}},
		{"no registry", Config{OutputRoot: "out"}, Deps{Builder: &fakeBuilder{}}},
		{"no builder", Config{OutputRoot: "out"}, Deps{Registry: reg}},
		{"isolated without launcher", Config{OutputRoot: "out", Jobs: 4}, Deps{Registry: reg, Builder: &fakeBuilder{}}},
	}
	for _, tt := range tests {
		if _, err := New(tt.cfg, tt.deps); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
