//go:build linux || darwin || freebsd || netbsd || openbsd

package capture

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

var console struct {
	once     sync.Once
	out, err *os.File
}

// initConsole duplicates fd 1 and fd 2 before any guard can replace them.
func initConsole() {
	console.once.Do(func() {
		console.out = dupFile(unix.Stdout, "console-stdout", os.Stdout)
		console.err = dupFile(unix.Stderr, "console-stderr", os.Stderr)
	})
}

func dupFile(fd int, name string, fallback *os.File) *os.File {
	nfd, err := dupCloexec(fd)
	if err != nil {
		return fallback
	}
	return os.NewFile(uintptr(nfd), name)
}

// Console returns a handle on the standard output the process had before
// any guard was acquired. Notices written here never reach a package log.
func Console() *os.File {
	initConsole()
	return console.out
}

// ConsoleErr is Console for standard error.
func ConsoleErr() *os.File {
	initConsole()
	return console.err
}

func dupCloexec(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

// Guard holds the redirected standard streams until Release.
type Guard struct {
	log      *os.File
	savedOut int
	savedErr int
	released bool
}

// Acquire creates or truncates logPath and points fd 1 and fd 2 at it.
// It panics if another guard is live.
func Acquire(logPath string) (*Guard, error) {
	claim()
	initConsole()

	g, err := redirect(logPath)
	if err != nil {
		active.Store(false)
		return nil, err
	}
	return g, nil
}

func redirect(logPath string) (*Guard, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture log: %w", err)
	}

	g := &Guard{log: f, savedOut: -1, savedErr: -1}
	if g.savedOut, err = dupCloexec(unix.Stdout); err != nil {
		g.abort()
		return nil, fmt.Errorf("save stdout: %w", err)
	}
	if g.savedErr, err = dupCloexec(unix.Stderr); err != nil {
		g.abort()
		return nil, fmt.Errorf("save stderr: %w", err)
	}

	_ = os.Stdout.Sync()
	_ = os.Stderr.Sync()

	logFd := int(f.Fd())
	if err := dup2(logFd, unix.Stdout); err != nil {
		g.abort()
		return nil, fmt.Errorf("redirect stdout: %w", err)
	}
	if err := dup2(logFd, unix.Stderr); err != nil {
		_ = dup2(g.savedOut, unix.Stdout)
		g.abort()
		return nil, fmt.Errorf("redirect stderr: %w", err)
	}
	return g, nil
}

// abort closes whatever a partially built guard holds.
func (g *Guard) abort() {
	if g.savedOut >= 0 {
		_ = unix.Close(g.savedOut)
	}
	if g.savedErr >= 0 {
		_ = unix.Close(g.savedErr)
	}
	_ = g.log.Close()
}

// LogPath returns the file the streams are redirected into.
func (g *Guard) LogPath() string {
	return g.log.Name()
}

// Release flushes the log and restores both streams to where they pointed
// before Acquire. Restoration is attempted for both streams even if one
// fails.
func (g *Guard) Release() error {
	if g.released {
		return ErrReleased
	}
	g.released = true
	defer active.Store(false)

	_ = g.log.Sync()

	var errs []error
	if err := dup2(g.savedOut, unix.Stdout); err != nil {
		errs = append(errs, fmt.Errorf("restore stdout: %w", err))
	}
	if err := dup2(g.savedErr, unix.Stderr); err != nil {
		errs = append(errs, fmt.Errorf("restore stderr: %w", err))
	}
	_ = unix.Close(g.savedOut)
	_ = unix.Close(g.savedErr)
	if err := g.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close capture log: %w", err))
	}
	if len(errs) > 0 {
		// Restoring a standard stream failing leaves the process unusable.
		panic(fmt.Sprintf("capture: %v", errs))
	}
	return nil
}
