// Package timing extracts per-pass compile timings from captured build logs.
//
// A captured log is free-form text. Lines of the form
//
//	time: 0.003; rss: 41MB	parsing
//
// contribute their duration, in file order. A line that is exactly
// TerminatorLine marks a log whose capture finished cleanly; a log without
// one is incomplete and is treated as a bad compile.
package timing

import (
	"errors"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// TerminatorLine ends a successfully captured log.
const TerminatorLine = "OK"

// ErrIncomplete is returned when input ends before TerminatorLine.
var ErrIncomplete = errors.New("bad compile: timing log is incomplete")

// passPattern matches an instrumentation line: literal prefix, one
// whitespace, a decimal with a required fraction, then trailing text.
var passPattern = regexp.MustCompile(`^time:\s(\d+\.\d+).+$`)

// Pass is one matched instrumentation line. Text is the duration exactly as
// it appeared in the log; Seconds is its value, +Inf when it overflows.
type Pass struct {
	Seconds float64
	Text    string
}

// Record is the ordered sequence of matched passes.
// An empty record is a valid result distinct from ErrIncomplete.
type Record []Pass

// Total returns the sum of all pass durations.
func (r Record) Total() float64 {
	var sum float64
	for _, p := range r {
		sum += p.Seconds
	}
	return sum
}

// Seconds returns the pass durations in order.
func (r Record) Seconds() []float64 {
	out := make([]float64, len(r))
	for i, p := range r {
		out[i] = p.Seconds
	}
	return out
}

// Texts returns the durations as captured, in order.
func (r Record) Texts() []string {
	out := make([]string, len(r))
	for i, p := range r {
		out[i] = p.Text
	}
	return out
}

// Parse scans text line by line. It never panics: the only outcomes are a
// (possibly empty) Record or ErrIncomplete.
func Parse(text string) (Record, error) {
	out := Record{}
	for text != "" {
		var line string
		line, text, _ = strings.Cut(text, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == TerminatorLine {
			return out, nil
		}

		m := passPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		// \d+\.\d+ only fails with ErrRange; the pass is kept as +Inf.
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			v = math.Inf(1)
		}
		out = append(out, Pass{Seconds: v, Text: m[1]})
	}
	return nil, ErrIncomplete
}

// ParseFile reads and parses a captured log file.
func ParseFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}
