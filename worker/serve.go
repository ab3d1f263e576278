package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/nikomatsakis/cratesio-perf/ipc"
	"github.com/nikomatsakis/cratesio-perf/types"
)

// Handler processes one job. It reports status transitions through
// onStatus and writes package output to out.
type Handler func(ctx context.Context, job *types.WorkerJobFrame, out io.Writer, onStatus func(types.BuildStatus)) *types.WorkerResultFrame

// Serve is the child side of Run: it reads one job from jobs, runs handle,
// and streams status and result frames to results. The returned value is the
// process exit code.
func Serve(ctx context.Context, jobs io.Reader, results io.Writer, out io.Writer, handle Handler) int {
	job, err := ipc.ReadJob(jobs)
	if err != nil {
		fmt.Fprintf(out, "worker: invalid job: %v\n", err)
		return ExitCodeInvalidInput
	}

	enc := ipc.NewFrameEncoder(results)
	onStatus := func(s types.BuildStatus) {
		// A lost status frame is not worth failing the package over.
		_ = enc.WriteFrame(&types.WorkerStatusFrame{Type: types.WorkerStatusType, Status: s})
	}

	frame := handle(ctx, job, out, onStatus)
	frame.Type = types.WorkerResultType
	if err := enc.WriteFrame(frame); err != nil {
		fmt.Fprintf(out, "worker: write result: %v\n", err)
		return ExitCodeCrash
	}
	return ExitCodeFor(frame)
}
