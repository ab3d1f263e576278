// Package redis publishes batch completion events over Redis pub/sub.
//
// The channel may carry {outcome} and {batch_id} placeholders, so a
// subscriber can PSUBSCRIBE to "cratesio-perf:*:failed" and hear only
// failed batches.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nikomatsakis/cratesio-perf/adapter"
)

const (
	DefaultChannel = "cratesio-perf:batch_completed"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures the Redis pub/sub adapter. URL takes the
// redis://[:password@]host:port[/db] form.
type Config struct {
	URL     string
	Channel string
	Timeout time.Duration
	Retries int
}

func (c Config) withDefaults() (Config, error) {
	if c.URL == "" {
		return c, errors.New("redis adapter requires a URL")
	}
	if c.Retries < 0 {
		return c, fmt.Errorf("retries must be >= 0, got %d", c.Retries)
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c, nil
}

// Adapter PUBLISHes each event as JSON.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New validates cfg and builds the client. It does not connect.
func New(cfg Config) (*Adapter, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// ChannelFor expands the configured channel's placeholders for event.
func (a *Adapter) ChannelFor(event *adapter.BatchCompletedEvent) string {
	return strings.NewReplacer(
		"{outcome}", event.Outcome,
		"{batch_id}", event.BatchID,
	).Replace(a.config.Channel)
}

func (a *Adapter) Publish(ctx context.Context, event *adapter.BatchCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.ChannelFor(event)
	err = adapter.Retry(ctx, a.config.Retries, func(ctx context.Context) (bool, error) {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return false, a.client.Publish(ctx, channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
