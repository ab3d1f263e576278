package lode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/pierrec/lz4/v4"

	"github.com/nikomatsakis/cratesio-perf/metrics"
)

// LodeClient is a Lode-backed implementation of Client.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	mu sync.Mutex // serializes dataset writes

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewLodeClient creates a client with filesystem storage rooted at root.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}
}

func (c *LodeClient) write(ctx context.Context, records []any, kind string) error {
	if len(records) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/%s", c.config.Dataset, kind))
	}
	return nil
}

// WritePackages implements Client.
func (c *LodeClient) WritePackages(ctx context.Context, recs []*PackageRecord) error {
	records := make([]any, 0, len(recs))
	for _, r := range recs {
		records = append(records, toPackageRecordMap(r, c.config))
	}
	return c.write(ctx, records, RecordKindPackage)
}

// WriteTimings implements Client.
func (c *LodeClient) WriteTimings(ctx context.Context, recs []TimingRecord) error {
	records := make([]any, 0, len(recs))
	for _, r := range recs {
		records = append(records, toTimingRecordMap(r, c.config))
	}
	return c.write(ctx, records, RecordKindTiming)
}

// WriteMetrics implements Client.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	return c.write(ctx, []any{toMetricsRecordMap(snap, completedAt, c.config)}, RecordKindMetrics)
}

// ArchiveLog compresses r with lz4 and stores it under the batch's logs/
// prefix. The spec must not contain path separators.
func (c *LodeClient) ArchiveLog(ctx context.Context, spec string, r io.Reader) (string, error) {
	store, err := c.getOrCreateStore()
	if err != nil {
		return "", WrapInitError(err, c.config.Dataset)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := io.Copy(zw, r); err != nil {
		return "", fmt.Errorf("compress log: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress log: %w", err)
	}

	path := c.logPath(spec)
	if err := store.Put(ctx, path, &buf); err != nil {
		return "", WrapWriteError(err, path)
	}
	return path, nil
}

// ReadLog fetches and decompresses an archived log.
func (c *LodeClient) ReadLog(ctx context.Context, path string) ([]byte, error) {
	store, err := c.getOrCreateStore()
	if err != nil {
		return nil, WrapInitError(err, c.config.Dataset)
	}
	rc, err := store.Get(ctx, path)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	defer rc.Close()

	data, err := io.ReadAll(lz4.NewReader(rc))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return data, nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// logPath computes the store path for an archived log.
// Format: datasets/<dataset>/partitions/day=<d>/batch_id=<b>/logs/<spec>.stdio.lz4
func (c *LodeClient) logPath(spec string) string {
	return fmt.Sprintf("datasets/%s/partitions/day=%s/batch_id=%s/logs/%s.stdio.lz4",
		c.config.Dataset,
		c.config.Day,
		c.config.BatchID,
		spec,
	)
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	return nil
}

// Verify LodeClient implements Client.
var _ Client = (*LodeClient)(nil)
