package types

// Frame type discriminants for the worker protocol.
const (
	// WorkerJobType is sent once by the parent on the worker's stdin.
	WorkerJobType = "job"
	// WorkerStatusType reports a lifecycle transition.
	WorkerStatusType = "status"
	// WorkerResultType is the worker's final frame.
	WorkerResultType = "result"
)

// CargoSettings mirrors the builder configuration a worker needs.
type CargoSettings struct {
	Path      string   `msgpack:"path,omitempty" json:"path,omitempty"`
	Toolchain string   `msgpack:"toolchain,omitempty" json:"toolchain,omitempty"`
	Env       []string `msgpack:"env,omitempty" json:"env,omitempty"`
}

// WorkerJobFrame carries everything an isolated worker needs to process one
// package. The worker's stdout and stderr are already the package log.
type WorkerJobFrame struct {
	Type          string        `msgpack:"type"`
	BatchID       string        `msgpack:"batch_id"`
	Spec          CrateSpec     `msgpack:"spec"`
	IndexPath     string        `msgpack:"index_path"`
	CacheDir      string        `msgpack:"cache_dir"`
	TargetDir     string        `msgpack:"target_dir"`
	RunTests      bool          `msgpack:"run_tests"`
	RunBenchmarks bool          `msgpack:"run_benchmarks"`
	Release       bool          `msgpack:"release"`
	Cargo         CargoSettings `msgpack:"cargo"`
}

// WorkerStatusFrame reports that the worker entered a new status.
type WorkerStatusFrame struct {
	Type   string      `msgpack:"type"`
	Status BuildStatus `msgpack:"status"`
}

// WorkerResultFrame is the final outcome of one package in a worker.
type WorkerResultFrame struct {
	Type        string         `msgpack:"type"`
	Package     *PackageID     `msgpack:"package,omitempty"`
	Status      BuildStatus    `msgpack:"status"`
	FailureKind FailureKind    `msgpack:"failure_kind,omitempty"`
	Error       string         `msgpack:"error,omitempty"`
	Outcomes    *PhaseOutcomes `msgpack:"outcomes,omitempty"`
}
