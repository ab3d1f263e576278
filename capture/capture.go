// Package capture redirects the process's standard output and standard
// error into a per-package log file.
//
// Redirection happens at the descriptor level, so output written by child
// processes and by code that never sees an explicit writer lands in the log
// too. At most one Guard may be live at a time; acquiring a second is a
// programming error and panics.
package capture

import (
	"errors"
	"sync/atomic"
)

// ErrReleased is returned when a guard is released twice.
var ErrReleased = errors.New("capture guard already released")

// active is the process-wide exclusivity flag.
var active atomic.Bool

// Active reports whether a guard currently holds the standard streams.
func Active() bool {
	return active.Load()
}

func claim() {
	if !active.CompareAndSwap(false, true) {
		panic("capture: output capture guard acquired while another is live")
	}
}

// With runs fn with both standard streams redirected to logPath. The guard
// is released on every exit path; a panic in fn propagates after release.
func With(logPath string, fn func() error) (err error) {
	g, err := Acquire(logPath)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := g.Release(); err == nil {
			err = rerr
		}
	}()
	return fn()
}
