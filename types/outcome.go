package types

import "time"

// BuildStatus is the lifecycle state of one package's turn.
type BuildStatus string

const (
	StatusPending      BuildStatus = "pending"
	StatusResolving    BuildStatus = "resolving"
	StatusBuilding     BuildStatus = "building"
	StatusTesting      BuildStatus = "testing"
	StatusBenchmarking BuildStatus = "benchmarking"
	StatusDone         BuildStatus = "done"
	StatusFailed       BuildStatus = "failed"
)

// IsTerminal returns true for Done and Failed.
func (s BuildStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// FailureKind classifies a per-package failure.
type FailureKind string

const (
	// FailureNotFound: no registry version matched the spec.
	FailureNotFound FailureKind = "not_found"
	// FailureDownload: the registry could not materialize the package.
	FailureDownload FailureKind = "download_failed"
	// FailureSetup: the ledger directory or log could not be prepared.
	FailureSetup FailureKind = "setup"
	// FailureWorker: an isolated worker process died without reporting.
	FailureWorker FailureKind = "worker_crash"
)

// Phase names a builder phase.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseTest    Phase = "test"
	PhaseBench   Phase = "bench"
)

// PhaseStatus classifies one phase's result.
type PhaseStatus string

const (
	// PhasePassed: the phase succeeded.
	PhasePassed PhaseStatus = "passed"
	// PhaseFailed: compilation failed.
	PhaseFailed PhaseStatus = "failed"
	// PhaseTestsFailed: the package's own tests or benches failed.
	PhaseTestsFailed PhaseStatus = "tests_failed"
	// PhaseToolingError: the builder itself errored.
	PhaseToolingError PhaseStatus = "tooling_error"
)

// PhaseOutcome is the classified result of one builder phase.
type PhaseOutcome struct {
	Phase    Phase         `msgpack:"phase" json:"phase"`
	Status   PhaseStatus   `msgpack:"status" json:"status"`
	Duration time.Duration `msgpack:"duration" json:"duration"`
	Detail   string        `msgpack:"detail,omitempty" json:"detail,omitempty"`
}

// Passed reports whether the phase passed.
func (o *PhaseOutcome) Passed() bool {
	return o != nil && o.Status == PhasePassed
}

// PhaseOutcomes holds every phase attempted for one package.
// Test and Bench are nil when the phase was not configured.
type PhaseOutcomes struct {
	Compile PhaseOutcome  `msgpack:"compile" json:"compile"`
	Test    *PhaseOutcome `msgpack:"test,omitempty" json:"test,omitempty"`
	Bench   *PhaseOutcome `msgpack:"bench,omitempty" json:"bench,omitempty"`
}

// AllPassed reports whether every attempted phase passed.
func (p *PhaseOutcomes) AllPassed() bool {
	if p == nil || !p.Compile.Passed() {
		return false
	}
	if p.Test != nil && !p.Test.Passed() {
		return false
	}
	if p.Bench != nil && !p.Bench.Passed() {
		return false
	}
	return true
}

// BuildRun tracks one package's turn through the orchestrator.
type BuildRun struct {
	Spec         CrateSpec
	OutputDir    string
	StdioLogPath string
	Status       BuildStatus
	// FailureKind is set when Status is StatusFailed.
	FailureKind FailureKind
}
