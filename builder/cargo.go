package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/nikomatsakis/cratesio-perf/types"
)

// DefaultCargoPath is the cargo binary looked up on PATH.
const DefaultCargoPath = "cargo"

// tailSize bounds how much stderr is kept for failure classification.
const tailSize = 16 * 1024

// Failure markers cargo prints when the package's own tests or benches fail.
var failureMarkers = map[types.Phase]string{
	types.PhaseTest:  "error: test failed",
	types.PhaseBench: "error: bench failed",
}

// CargoConfig configures the cargo builder.
type CargoConfig struct {
	// Path is the cargo binary (default "cargo").
	Path string
	// Toolchain is passed as "+toolchain" when set, e.g. "nightly".
	Toolchain string
	// Env adds KEY=VALUE entries to the inherited environment.
	Env []string
}

// CargoBuilder runs phases through the cargo CLI.
type CargoBuilder struct {
	config CargoConfig
}

// NewCargoBuilder creates a cargo builder.
func NewCargoBuilder(cfg CargoConfig) *CargoBuilder {
	if cfg.Path == "" {
		cfg.Path = DefaultCargoPath
	}
	return &CargoBuilder{config: cfg}
}

// Args returns the cargo arguments for phase.
func (c *CargoBuilder) Args(phase types.Phase, pkg *types.ResolvedPackage, opts Options) []string {
	var args []string
	if c.config.Toolchain != "" {
		args = append(args, "+"+c.config.Toolchain)
	}
	switch phase {
	case types.PhaseCompile:
		args = append(args, "rustc", "--lib")
	case types.PhaseTest:
		args = append(args, "test")
	case types.PhaseBench:
		args = append(args, "bench")
	}
	args = append(args, "--manifest-path", pkg.ManifestPath)
	if opts.TargetDir != "" {
		args = append(args, "--target-dir", opts.TargetDir)
	}
	if opts.Release && phase != types.PhaseBench {
		args = append(args, "--release")
	}
	if phase == types.PhaseCompile {
		args = append(args, "--")
		args = append(args, TimePassesFlag...)
	}
	return args
}

// Compile runs `cargo rustc --lib ... -- -Z time-passes`.
func (c *CargoBuilder) Compile(ctx context.Context, pkg *types.ResolvedPackage, opts Options) error {
	return c.run(ctx, types.PhaseCompile, pkg, opts)
}

// Test runs `cargo test`.
func (c *CargoBuilder) Test(ctx context.Context, pkg *types.ResolvedPackage, opts Options) error {
	return c.run(ctx, types.PhaseTest, pkg, opts)
}

// Bench runs `cargo bench`.
func (c *CargoBuilder) Bench(ctx context.Context, pkg *types.ResolvedPackage, opts Options) error {
	return c.run(ctx, types.PhaseBench, pkg, opts)
}

func (c *CargoBuilder) run(ctx context.Context, phase types.Phase, pkg *types.ResolvedPackage, opts Options) error {
	cmd := exec.CommandContext(ctx, c.config.Path, c.Args(phase, pkg, opts)...)
	cmd.Dir = pkg.SourceDir
	if len(c.config.Env) > 0 {
		cmd.Env = deduplicateEnv(append(os.Environ(), c.config.Env...))
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	tail := &tailBuffer{limit: tailSize}
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, tail)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	code, ok := exitCode(err)
	if !ok {
		return fmt.Errorf("cargo %s: %w", phase, err)
	}
	exitErr := fmt.Errorf("cargo %s exited with status %d", phase, code)
	if marker, ok := failureMarkers[phase]; ok && tail.Contains(marker) {
		return &PackageFailure{Phase: phase, Err: exitErr}
	}
	return exitErr
}

// exitCode extracts the process exit status from a Run error.
func exitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		return status.ExitStatus(), true
	}
	return -1, true
}

// deduplicateEnv keeps the last occurrence of each env var key so
// configured values win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// Contains reports whether s occurs in the retained tail.
func (t *tailBuffer) Contains(s string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Contains(t.buf, []byte(s))
}

var _ Builder = (*CargoBuilder)(nil)
