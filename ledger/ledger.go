// Package ledger records which packages have been processed under an output
// root.
//
// Layout:
//
//	<output_root>/output/<spec>/stdio        captured combined log
//	<output_root>/output/<spec>/status.json  outcome record, written last
//
// Presence of stdio is the durable "already attempted" marker and the only
// input to the resumability check. status.json is written after the attempt
// concludes, so a directory with stdio but no status.json was interrupted
// mid-attempt.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nikomatsakis/cratesio-perf/types"
)

const (
	// OutputDirName is the ledger subdirectory of the output root.
	OutputDirName = "output"
	// StdioFile is the captured log inside a package directory.
	StdioFile = "stdio"
	// StatusFile is the outcome record inside a package directory.
	StatusFile = "status.json"
)

// State classifies a package directory.
type State string

const (
	StateAbsent      State = "absent"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateInterrupted State = "interrupted"
)

// Status is the outcome record persisted after a package's attempt.
type Status struct {
	Spec        string               `json:"spec"`
	BatchID     string               `json:"batch_id,omitempty"`
	Package     *types.PackageID     `json:"package,omitempty"`
	Status      types.BuildStatus    `json:"status"`
	FailureKind types.FailureKind    `json:"failure_kind,omitempty"`
	Error       string               `json:"error,omitempty"`
	Outcomes    *types.PhaseOutcomes `json:"outcomes,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// Ledger is the filesystem-backed record of processed packages.
type Ledger struct {
	root string
}

// New returns a ledger rooted at outputRoot.
func New(outputRoot string) *Ledger {
	return &Ledger{root: outputRoot}
}

// Root returns the directory holding one subdirectory per package.
func (l *Ledger) Root() string {
	return filepath.Join(l.root, OutputDirName)
}

// Dir returns the package directory for spec.
func (l *Ledger) Dir(spec types.CrateSpec) string {
	return filepath.Join(l.Root(), spec.String())
}

// StdioPath returns the captured log path for spec.
func (l *Ledger) StdioPath(spec types.CrateSpec) string {
	return filepath.Join(l.Dir(spec), StdioFile)
}

// Completed reports whether an attempt for spec has already concluded,
// successfully or not.
func (l *Ledger) Completed(spec types.CrateSpec) (bool, error) {
	_, err := os.Stat(l.StdioPath(spec))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Reset deletes spec's directory and everything in it.
func (l *Ledger) Reset(spec types.CrateSpec) error {
	return os.RemoveAll(l.Dir(spec))
}

// Prepare creates spec's directory and returns the stdio path.
func (l *Ledger) Prepare(spec types.CrateSpec) (string, error) {
	if err := os.MkdirAll(l.Dir(spec), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return l.StdioPath(spec), nil
}

// WriteStatus persists the outcome record for spec atomically.
func (l *Ledger) WriteStatus(spec types.CrateSpec, status *Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(filepath.Join(l.Dir(spec), StatusFile), data, 0o644)
}

// ReadStatus loads the outcome record from a package directory.
// Returns an error wrapping os.ErrNotExist when none was written.
func ReadStatus(dir string) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(dir, StatusFile))
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid %s in %s: %w", StatusFile, dir, err)
	}
	return &s, nil
}

// StateOf classifies a package directory.
func StateOf(dir string) (State, error) {
	if _, err := os.Stat(filepath.Join(dir, StdioFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateAbsent, nil
		}
		return "", err
	}

	status, err := ReadStatus(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StateInterrupted, nil
		}
		return "", err
	}
	if status.Status == types.StatusFailed {
		return StateFailed, nil
	}
	return StateCompleted, nil
}

// Entries returns the package directory names present in the ledger,
// sorted lexicographically. A missing ledger has no entries.
func (l *Ledger) Entries() ([]string, error) {
	entries, err := os.ReadDir(l.Root())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// writeFileAtomic writes data to a temp file in the same directory, syncs
// it, and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
