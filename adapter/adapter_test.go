package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	BaseBackoff = time.Millisecond
	boom := errors.New("boom")

	tests := []struct {
		name      string
		retries   int
		failUntil int
		permanent bool
		wantCalls int
		wantErr   bool
	}{
		{"first try", 3, 0, false, 1, false},
		{"succeeds on retry", 3, 2, false, 3, false},
		{"exhausted", 2, 10, false, 3, true},
		{"permanent", 5, 10, true, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(t.Context(), tt.retries, func(context.Context) (bool, error) {
				calls++
				if calls <= tt.failUntil {
					return tt.permanent, boom
				}
				return false, nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, boom) {
				t.Errorf("err = %v, want wrapped boom", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetry_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	called := false
	err := Retry(ctx, 3, func(context.Context) (bool, error) {
		called = true
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("attempt should not run with a canceled context")
	}
}
