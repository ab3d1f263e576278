//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package capture

import (
	"errors"
	"os"
)

// ErrUnsupported is returned by Acquire on platforms without descriptor
// duplication. Use isolated workers there.
var ErrUnsupported = errors.New("output capture is not supported on this platform")

// Guard is never constructed on this platform.
type Guard struct{}

// Console returns standard output.
func Console() *os.File { return os.Stdout }

// ConsoleErr returns standard error.
func ConsoleErr() *os.File { return os.Stderr }

// Acquire always fails on this platform.
func Acquire(string) (*Guard, error) {
	claim()
	active.Store(false)
	return nil, ErrUnsupported
}

// LogPath returns "".
func (g *Guard) LogPath() string { return "" }

// Release is a no-op.
func (g *Guard) Release() error { return nil }
