// Package report summarizes captured package logs, one line per package.
package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikomatsakis/cratesio-perf/ledger"
	"github.com/nikomatsakis/cratesio-perf/timing"
)

// readBatch bounds how many directory entries are read per call.
const readBatch = 64

// Entry is the summary of one package directory.
type Entry struct {
	// Path is the package directory, joined onto the walked root.
	Path string
	// OK is true when the captured log parsed to completion.
	OK bool
	// Timings are the per-pass durations in log order. Nil when !OK.
	Timings timing.Record
	// Err is the reason the log did not parse. Nil when OK.
	Err error
}

// Name returns the package directory's base name.
func (e Entry) Name() string {
	return filepath.Base(e.Path)
}

// String renders the report line, without the trailing newline. Durations
// are printed exactly as they appear in the log.
func (e Entry) String() string {
	if !e.OK {
		return e.Path + ", false"
	}
	var b strings.Builder
	b.WriteString(e.Path)
	b.WriteString(", true")
	for _, p := range e.Timings {
		b.WriteString(", ")
		b.WriteString(p.Text)
	}
	return b.String()
}

// Summarize parses the captured log inside dir.
// A missing or unreadable log yields an entry with OK false.
func Summarize(dir string) Entry {
	rec, err := timing.ParseFile(filepath.Join(dir, ledger.StdioFile))
	if err != nil {
		return Entry{Path: dir, Err: err}
	}
	return Entry{Path: dir, OK: true, Timings: rec}
}

// Walk yields one entry per immediate subdirectory of root, in the order the
// filesystem enumerates them. Directories are read lazily in batches, so
// stopping early never reads the rest of root. An error opening or reading
// root is yielded once and ends the walk.
func Walk(root string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		f, err := os.Open(root)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer f.Close()

		for {
			batch, err := f.ReadDir(readBatch)
			for _, de := range batch {
				if !isDir(root, de) {
					continue
				}
				if !yield(Summarize(filepath.Join(root, de.Name())), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, fmt.Errorf("read %s: %w", root, err))
				return
			}
		}
	}
}

// isDir follows symlinks so linked package directories are still reported.
func isDir(root string, de os.DirEntry) bool {
	if de.IsDir() {
		return true
	}
	if de.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, de.Name()))
	return err == nil && info.IsDir()
}

// Write emits one newline-terminated report line per package directory in
// root and returns the number of lines written.
func Write(w io.Writer, root string) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for entry, err := range Walk(root) {
		if err != nil {
			_ = bw.Flush()
			return n, err
		}
		if _, err := bw.WriteString(entry.String() + "\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, bw.Flush()
}

// Collect drains Walk into a slice.
func Collect(root string) ([]Entry, error) {
	var entries []Entry
	for entry, err := range Walk(root) {
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
