package worker

import (
	"fmt"

	"github.com/nikomatsakis/cratesio-perf/types"
)

// Worker exit codes.
const (
	ExitCodeDone         = 0 // result frame with status done
	ExitCodeFailed       = 1 // result frame with status failed
	ExitCodeCrash        = 2 // worker crashed before reporting
	ExitCodeInvalidInput = 3 // job frame missing or malformed
)

// DetermineResult reconciles the exit code with the result frame, if any.
// A worker that exits without a matching result frame is a worker failure.
func DetermineResult(exitCode int, frame *types.WorkerResultFrame) *types.WorkerResultFrame {
	switch exitCode {
	case ExitCodeDone:
		if frame != nil && frame.Status == types.StatusDone {
			return frame
		}
		return crashed("worker exited cleanly without a result")
	case ExitCodeFailed:
		if frame != nil && frame.Status == types.StatusFailed {
			return frame
		}
		return crashed("worker reported failure without a result")
	case ExitCodeCrash:
		return crashed("worker crashed")
	case ExitCodeInvalidInput:
		return crashed("worker rejected its job")
	default:
		return crashed(fmt.Sprintf("worker exited with unexpected code %d", exitCode))
	}
}

func crashed(msg string) *types.WorkerResultFrame {
	return &types.WorkerResultFrame{
		Type:        types.WorkerResultType,
		Status:      types.StatusFailed,
		FailureKind: types.FailureWorker,
		Error:       msg,
	}
}

// ExitCodeFor maps a result frame to the worker's exit code.
func ExitCodeFor(frame *types.WorkerResultFrame) int {
	if frame.Status == types.StatusDone {
		return ExitCodeDone
	}
	return ExitCodeFailed
}
