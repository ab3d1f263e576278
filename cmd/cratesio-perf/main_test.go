package main

import (
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(_ *testing.T) {
	// Should not panic or exit on nil error
	exitErrHandler(nil, nil)
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"success no message", cli.Exit("", 0), 0, ""},
		{"stopped on error", cli.Exit("", 1), 1, ""},
		{"setup error", cli.Exit("registry index not found: out/index", 2), 2, "registry index not found: out/index"},
		{"storage failure", cli.Exit("2 result write(s) failed", 3), 3, "2 result write(s) failed"},
		{"wrapped exit coder", errors.Join(errors.New("context"), cli.Exit("inner", 42)), 42, "inner"},
		{"regular error", errors.New("boom"), 1, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}
