// Package worker runs one package per child process.
//
// The parent writes a single job frame to the child's stdin and reads status
// and result frames from a pipe passed as the child's fd 3. The child's
// stdout and stderr are the package log file, so nothing the build prints
// can corrupt the frame stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/nikomatsakis/cratesio-perf/ipc"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// ResultFD is the child-side descriptor carrying frames back to the parent.
const ResultFD = 3

// DefaultCommand is the hidden subcommand that serves one job.
const DefaultCommand = "build-one"

// Config configures one worker launch.
type Config struct {
	// Path is the worker executable, usually os.Executable().
	Path string
	// Args are passed to the executable. Defaults to [DefaultCommand].
	Args []string
	// Env replaces the inherited environment when non-nil.
	Env []string
	// LogPath receives the child's stdout and stderr.
	LogPath string
	Job     *types.WorkerJobFrame
	// OnStatus is called for every status frame.
	OnStatus func(types.BuildStatus)
	// OnDecodeError is called for every frame that could not be decoded.
	OnDecodeError func(error)
}

// Result is the outcome of one worker process.
type Result struct {
	ExitCode int
	// Frame is the reconciled result; never nil.
	Frame *types.WorkerResultFrame
}

// ErrLaunch wraps failures to start the worker process.
var ErrLaunch = errors.New("worker launch failed")

// Run starts a worker, feeds it the job and waits for its result.
// Errors are returned only when the worker could not be launched; anything
// that goes wrong after start is reported in the result frame.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	logFile, err := os.Create(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("%w: create log: %v", ErrLaunch, err)
	}
	defer logFile.Close()

	resultsR, resultsW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: result pipe: %v", ErrLaunch, err)
	}
	defer resultsR.Close()

	args := cfg.Args
	if len(args) == 0 {
		args = []string{DefaultCommand}
	}
	cmd := exec.CommandContext(ctx, cfg.Path, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.ExtraFiles = []*os.File{resultsW} // becomes fd 3
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		resultsW.Close()
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrLaunch, err)
	}

	if err := cmd.Start(); err != nil {
		resultsW.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	// The child holds its own copy; ours must close so EOF arrives on exit.
	resultsW.Close()

	writeErr := ipc.NewFrameEncoder(stdin).WriteFrame(cfg.Job)
	if cerr := stdin.Close(); writeErr == nil {
		writeErr = cerr
	}

	frame := readFrames(resultsR, cfg)
	// Drain anything left after a fatal frame error so the child never blocks.
	_, _ = io.Copy(io.Discard, resultsR)

	exitCode, err := wait(cmd)
	if err != nil {
		return nil, err
	}

	res := &Result{ExitCode: exitCode, Frame: DetermineResult(exitCode, frame)}
	if writeErr != nil && res.Frame.FailureKind == types.FailureWorker {
		res.Frame.Error = fmt.Sprintf("%s (job write failed: %v)", res.Frame.Error, writeErr)
	}
	return res, nil
}

// readFrames consumes frames until EOF or a fatal frame error and returns the
// last result frame seen.
func readFrames(r io.Reader, cfg Config) *types.WorkerResultFrame {
	dec := ipc.NewFrameDecoder(r)
	var result *types.WorkerResultFrame
	for {
		frame, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return result
			}
			if cfg.OnDecodeError != nil {
				cfg.OnDecodeError(err)
			}
			if ipc.IsFatalFrameError(err) {
				return result
			}
			continue
		}
		switch f := frame.(type) {
		case *types.WorkerStatusFrame:
			if cfg.OnStatus != nil {
				cfg.OnStatus(f.Status)
			}
		case *types.WorkerResultFrame:
			result = f
		}
	}
}

func wait(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 0, fmt.Errorf("worker wait failed: %w", err)
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
		return status.ExitStatus(), nil
	}
	return -1, nil
}
