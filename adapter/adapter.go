// Package adapter publishes batch completion notifications to downstream
// systems once a batch and its result writes have finished.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// EventTypeBatchCompleted is the event_type of every published event.
const EventTypeBatchCompleted = "batch_completed"

// BatchCompletedEvent is the payload published when a batch finishes.
type BatchCompletedEvent struct {
	EventType   string `json:"event_type"`
	BatchID     string `json:"batch_id"`
	Day         string `json:"day"`
	Outcome     string `json:"outcome"` // completed, failed, stopped
	OutputRoot  string `json:"output_root"`
	StoragePath string `json:"storage_path,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC 3339
	Queued      int    `json:"queued"`
	Skipped     int    `json:"skipped"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	DurationMs  int64  `json:"duration_ms"`
}

// Adapter publishes batch completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation.
	Publish(ctx context.Context, event *BatchCompletedEvent) error
	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry. It doubles per retry.
var BaseBackoff = 500 * time.Millisecond

// Retry calls attempt up to 1+retries times with exponential backoff between
// calls. It stops early when attempt reports the error as permanent.
func Retry(ctx context.Context, retries int, attempt func(context.Context) (permanent bool, err error)) error {
	var lastErr error
	attempts := 1 + retries
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		permanent, err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent {
			return fmt.Errorf("non-retriable error: %w", err)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
