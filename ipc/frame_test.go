package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nikomatsakis/cratesio-perf/types"
)

// encodeFrame encodes a payload with length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func strPtr(s string) *string { return &s }

func TestFrameEncoder_RoundTripJob(t *testing.T) {
	job := &types.WorkerJobFrame{
		Type:      types.WorkerJobType,
		BatchID:   "batch-1",
		Spec:      types.CrateSpec{Name: "serde", Version: strPtr("1.0.0")},
		IndexPath: "/out/index",
		CacheDir:  "/out/cache",
		TargetDir: "/out/results",
		RunTests:  true,
		Cargo:     types.CargoSettings{Toolchain: "nightly", Env: []string{"RUSTC_BOOTSTRAP=1"}},
	}

	var buf bytes.Buffer
	if err := NewFrameEncoder(&buf).WriteFrame(job); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadJob(&buf)
	if err != nil {
		t.Fatalf("ReadJob failed: %v", err)
	}
	if got.Spec.String() != "serde=1.0.0" {
		t.Errorf("Spec = %s", got.Spec)
	}
	if got.BatchID != job.BatchID || got.IndexPath != job.IndexPath || !got.RunTests {
		t.Errorf("job = %+v", got)
	}
	if got.Cargo.Toolchain != "nightly" || len(got.Cargo.Env) != 1 {
		t.Errorf("Cargo = %+v", got.Cargo)
	}
}

func TestFrameDecoder_StatusAndResultStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)

	frames := []any{
		&types.WorkerStatusFrame{Type: types.WorkerStatusType, Status: types.StatusResolving},
		&types.WorkerStatusFrame{Type: types.WorkerStatusType, Status: types.StatusBuilding},
		&types.WorkerResultFrame{
			Type:    types.WorkerResultType,
			Package: &types.PackageID{Name: "log", Version: "0.4.20"},
			Status:  types.StatusDone,
			Outcomes: &types.PhaseOutcomes{
				Compile: types.PhaseOutcome{Phase: types.PhaseCompile, Status: types.PhasePassed, Duration: 2 * time.Second},
			},
		},
	}
	for _, f := range frames {
		if err := enc.WriteFrame(f); err != nil {
			t.Fatal(err)
		}
	}

	dec := NewFrameDecoder(&buf)
	var statuses []types.BuildStatus
	var result *types.WorkerResultFrame
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		switch f := frame.(type) {
		case *types.WorkerStatusFrame:
			statuses = append(statuses, f.Status)
		case *types.WorkerResultFrame:
			result = f
		default:
			t.Fatalf("unexpected frame %T", frame)
		}
	}

	if len(statuses) != 2 || statuses[0] != types.StatusResolving || statuses[1] != types.StatusBuilding {
		t.Errorf("statuses = %v", statuses)
	}
	if result == nil {
		t.Fatal("no result frame")
	}
	if result.Package.Version != "0.4.20" || result.Status != types.StatusDone {
		t.Errorf("result = %+v", result)
	}
	if result.Outcomes.Compile.Duration != 2*time.Second {
		t.Errorf("Duration = %v", result.Outcomes.Compile.Duration)
	}
}

func TestFrameDecoder_PartialFrame(t *testing.T) {
	payload, _ := msgpack.Marshal(&types.WorkerStatusFrame{Type: types.WorkerStatusType, Status: types.StatusBuilding})
	frame := encodeFrame(payload)

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated prefix", frame[:2]},
		{"truncated payload", frame[:len(frame)-1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameDecoder(bytes.NewReader(tt.data)).ReadFrame()
			var frameErr *FrameError
			if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorPartial {
				t.Fatalf("expected partial FrameError, got %v", err)
			}
			if !IsFatalFrameError(err) {
				t.Error("partial frame should be fatal")
			}
		})
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)

	_, err := NewFrameDecoder(bytes.NewReader(prefix[:])).ReadFrame()
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Fatalf("expected TooLarge FrameError, got %v", err)
	}
}

func TestFrameEncoder_Oversized(t *testing.T) {
	big := &types.WorkerResultFrame{Type: types.WorkerResultType, Error: string(make([]byte, MaxPayloadSize))}
	err := NewFrameEncoder(io.Discard).WriteFrame(big)
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Fatalf("expected TooLarge, got %v", err)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	unknown, _ := msgpack.Marshal(map[string]any{"type": "telemetry"})

	tests := []struct {
		name    string
		payload []byte
		kind    FrameErrorKind
	}{
		{"malformed msgpack", []byte{0xc1}, FrameErrorDecode},
		{"unknown type", unknown, FrameErrorUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.payload)
			var frameErr *FrameError
			if !errors.As(err, &frameErr) || frameErr.Kind != tt.kind {
				t.Fatalf("expected kind %v, got %v", tt.kind, err)
			}
			if IsFatalFrameError(err) {
				t.Error("decode errors are not fatal")
			}
		})
	}
}

func TestReadJob_WrongFrame(t *testing.T) {
	var buf bytes.Buffer
	_ = NewFrameEncoder(&buf).WriteFrame(&types.WorkerStatusFrame{Type: types.WorkerStatusType})

	if _, err := ReadJob(&buf); err == nil {
		t.Error("expected error for non-job frame")
	}
}

func TestFrameError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &FrameError{Kind: FrameErrorDecode, Msg: "wrapped", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap does not expose cause")
	}
	if err.Error() != "wrapped: underlying" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("plain")) {
		t.Error("plain error reported fatal")
	}
}
