// Package metrics provides per-batch metrics collection.
//
// The Collector accumulates counters during a single batch. It is a leaf
// package with no internal dependencies; phase and status names are passed
// as plain strings.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of all batch metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Queue
	PackagesQueued   int64
	PackagesExcluded int64
	PackagesSkipped  int64
	PackagesReset    int64

	// Package lifecycle
	PackagesStarted   int64
	PackagesCompleted int64
	PackagesFailed    int64
	FailuresByKind    map[string]int64

	// Phases, keyed by phase then status
	PhaseOutcomes map[string]map[string]int64
	PhaseSeconds  map[string]float64

	// Isolated workers
	WorkerLaunchSuccess int64
	WorkerLaunchFailure int64
	WorkerCrash         int64
	IPCDecodeErrors     int64

	// Lode / Storage
	LodeWriteSuccess int64
	LodeWriteFailure int64

	// Dimensions (informational, set at construction)
	Mode           string
	StorageBackend string
	BatchID        string

	StartedAt time.Time
}

// Collector accumulates metrics during a single batch.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	packagesQueued   int64
	packagesExcluded int64
	packagesSkipped  int64
	packagesReset    int64

	packagesStarted   int64
	packagesCompleted int64
	packagesFailed    int64
	failuresByKind    map[string]int64

	phaseOutcomes map[string]map[string]int64
	phaseSeconds  map[string]float64

	workerLaunchSuccess int64
	workerLaunchFailure int64
	workerCrash         int64
	ipcDecodeErrors     int64

	lodeWriteSuccess int64
	lodeWriteFailure int64

	mode           string
	storageBackend string
	batchID        string
	startedAt      time.Time
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is empty when no result dataset is configured.
func NewCollector(mode, storageBackend, batchID string) *Collector {
	return &Collector{
		failuresByKind: make(map[string]int64),
		phaseOutcomes:  make(map[string]map[string]int64),
		phaseSeconds:   make(map[string]float64),
		mode:           mode,
		storageBackend: storageBackend,
		batchID:        batchID,
		startedAt:      time.Now(),
	}
}

// add must only be called on a non-nil collector.
func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Queue ---

// AddQueued records packages entering the work queue.
func (c *Collector) AddQueued(n int) {
	if c == nil {
		return
	}
	c.add(&c.packagesQueued, int64(n))
}

// IncExcluded records a package dropped by the deny-list.
func (c *Collector) IncExcluded() {
	if c == nil {
		return
	}
	c.add(&c.packagesExcluded, 1)
}

// IncSkipped records a package skipped because the ledger shows it done.
func (c *Collector) IncSkipped() {
	if c == nil {
		return
	}
	c.add(&c.packagesSkipped, 1)
}

// IncReset records prior results removed because of force.
func (c *Collector) IncReset() {
	if c == nil {
		return
	}
	c.add(&c.packagesReset, 1)
}

// --- Package lifecycle ---

// IncStarted records a package whose attempt began.
func (c *Collector) IncStarted() {
	if c == nil {
		return
	}
	c.add(&c.packagesStarted, 1)
}

// IncCompleted records a package that reached the done state.
func (c *Collector) IncCompleted() {
	if c == nil {
		return
	}
	c.add(&c.packagesCompleted, 1)
}

// IncFailed records a per-package failure of the given kind.
func (c *Collector) IncFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packagesFailed++
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// ObservePhase records one builder phase result and its duration.
func (c *Collector) ObservePhase(phase, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byStatus, ok := c.phaseOutcomes[phase]
	if !ok {
		byStatus = make(map[string]int64)
		c.phaseOutcomes[phase] = byStatus
	}
	byStatus[status]++
	c.phaseSeconds[phase] += d.Seconds()
}

// --- Isolated workers ---

// IncWorkerLaunchSuccess records a successful worker launch.
func (c *Collector) IncWorkerLaunchSuccess() {
	if c == nil {
		return
	}
	c.add(&c.workerLaunchSuccess, 1)
}

// IncWorkerLaunchFailure records a failed worker launch.
func (c *Collector) IncWorkerLaunchFailure() {
	if c == nil {
		return
	}
	c.add(&c.workerLaunchFailure, 1)
}

// IncWorkerCrash records a worker that exited without a result frame.
func (c *Collector) IncWorkerCrash() {
	if c == nil {
		return
	}
	c.add(&c.workerCrash, 1)
}

// IncIPCDecodeErrors records an IPC frame decode error.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.ipcDecodeErrors, 1)
}

// --- Lode / Storage ---

// IncLodeWriteSuccess records a successful Lode write operation (per-call).
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteSuccess, 1)
}

// IncLodeWriteFailure records a failed Lode write operation (per-call).
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	failures := make(map[string]int64, len(c.failuresByKind))
	for k, v := range c.failuresByKind {
		failures[k] = v
	}
	outcomes := make(map[string]map[string]int64, len(c.phaseOutcomes))
	for phase, byStatus := range c.phaseOutcomes {
		cp := make(map[string]int64, len(byStatus))
		for k, v := range byStatus {
			cp[k] = v
		}
		outcomes[phase] = cp
	}
	seconds := make(map[string]float64, len(c.phaseSeconds))
	for k, v := range c.phaseSeconds {
		seconds[k] = v
	}

	return Snapshot{
		PackagesQueued:   c.packagesQueued,
		PackagesExcluded: c.packagesExcluded,
		PackagesSkipped:  c.packagesSkipped,
		PackagesReset:    c.packagesReset,

		PackagesStarted:   c.packagesStarted,
		PackagesCompleted: c.packagesCompleted,
		PackagesFailed:    c.packagesFailed,
		FailuresByKind:    failures,

		PhaseOutcomes: outcomes,
		PhaseSeconds:  seconds,

		WorkerLaunchSuccess: c.workerLaunchSuccess,
		WorkerLaunchFailure: c.workerLaunchFailure,
		WorkerCrash:         c.workerCrash,
		IPCDecodeErrors:     c.ipcDecodeErrors,

		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		Mode:           c.mode,
		StorageBackend: c.storageBackend,
		BatchID:        c.batchID,
		StartedAt:      c.startedAt,
	}
}
