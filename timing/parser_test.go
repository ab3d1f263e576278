package timing

import (
	"errors"
	"os"
	"path/filepath"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{
			name:  "two passes",
			input: "time: 1.250 pass-a\ntime: 0.003 pass-b\nOK\n",
			want:  []string{"1.250", "0.003"},
		},
		{
			name:    "no terminator",
			input:   "time: 1.250 pass-a\n",
			wantErr: ErrIncomplete,
		},
		{
			name:  "terminator only",
			input: "OK\n",
			want:  []string{},
		},
		{
			name:  "garbage then terminator",
			input: "garbage\nOK\n",
			want:  []string{},
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: ErrIncomplete,
		},
		{
			name:  "terminator without trailing newline",
			input: "time: 0.500 typeck\nOK",
			want:  []string{"0.500"},
		},
		{
			name:  "lines after terminator are ignored",
			input: "time: 0.100 a\nOK\ntime: 9.000 b\n",
			want:  []string{"0.100"},
		},
		{
			name:  "integer duration does not match",
			input: "time: 3 parsing\nOK\n",
			want:  []string{},
		},
		{
			name:  "number without trailing text does not match",
			input: "time: 0.250\nOK\n",
			want:  []string{},
		},
		{
			name:  "prefix must start the line",
			input: "  time: 0.250 parsing\nOK\n",
			want:  []string{},
		},
		{
			name:  "rustc rss format",
			input: "   Compiling foo v0.1.0\ntime: 0.012; rss: 41MB\tparsing\ntime: 1.402; rss: 90MB\ttype checking\nOK\n",
			want:  []string{"0.012", "1.402"},
		},
		{
			name:  "crlf line endings",
			input: "time: 0.010 a\r\nOK\r\n",
			want:  []string{"0.010"},
		},
		{
			name:    "terminator must match exactly",
			input:   "time: 0.010 a\nOK \n ok\n",
			wantErr: ErrIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if texts := got.Texts(); !reflect.DeepEqual(texts, tt.want) {
				t.Errorf("Parse() = %v, want %v", texts, tt.want)
			}
		})
	}
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		"\x00\xff\xfe",
		"time: \n",
		"time: 1.\n",
		"time: .5 x\n",
		"time:\t99999999999999999999999999999999999999.0 x\nOK",
		"\n\n\n",
	}
	for _, in := range inputs {
		_, _ = Parse(in)
	}
}

func TestParse_KeepsCapturedText(t *testing.T) {
	got, err := Parse("time: 1.250 pass-a\ntime: 0.100\tb\ntime: 0.000 c\nOK\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := Record{{1.25, "1.250"}, {0.1, "0.100"}, {0, "0.000"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() = %v, want %v", got, want)
	}
	if secs := got.Seconds(); !reflect.DeepEqual(secs, []float64{1.25, 0.1, 0}) {
		t.Errorf("Seconds() = %v", secs)
	}
}

func TestParse_OverflowKeepsPosition(t *testing.T) {
	huge := "1" + strings.Repeat("0", 400) + ".5"
	got, err := Parse("time: 0.250 a\ntime: " + huge + " b\ntime: 0.500 c\nOK\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 passes, got %d: %v", len(got), got)
	}
	if !math.IsInf(got[1].Seconds, 1) || got[1].Text != huge {
		t.Errorf("overflowing pass = %+v", got[1])
	}
	if got[2].Text != "0.500" {
		t.Errorf("third pass = %+v", got[2])
	}
}

func TestRecord_Total(t *testing.T) {
	r := Record{{Seconds: 0.5}, {Seconds: 0.25}, {Seconds: 0.25}}
	if got := r.Total(); got != 1.0 {
		t.Errorf("Total() = %v, want 1.0", got)
	}
	if got := (Record{}).Total(); got != 0 {
		t.Errorf("empty Total() = %v, want 0", got)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdio")
	if err := os.WriteFile(path, []byte("time: 0.125 x\nOK\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if !reflect.DeepEqual(got, Record{{0.125, "0.125"}}) {
		t.Errorf("ParseFile() = %v", got)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
