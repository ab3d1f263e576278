package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/nikomatsakis/cratesio-perf/builder"
	"github.com/nikomatsakis/cratesio-perf/cli/config"
	"github.com/nikomatsakis/cratesio-perf/lode"
	"github.com/nikomatsakis/cratesio-perf/policy"
)

// storageChoice holds parsed results-dataset configuration.
type storageChoice struct {
	dataset   string
	backend   string // "fs" or "s3"
	path      string // fs: directory, s3: bucket/prefix
	region    string
	endpoint  string
	pathStyle bool
}

// enabled reports whether a results dataset was configured.
func (s storageChoice) enabled() bool {
	return s.path != ""
}

// label is the storage_backend metrics dimension.
func (s storageChoice) label() string {
	if !s.enabled() {
		return ""
	}
	return s.backend
}

func (s storageChoice) s3Config() lode.S3Config {
	bucket, prefix := lode.ParseS3Path(s.path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       s.region,
		Endpoint:     s.endpoint,
		UsePathStyle: s.pathStyle,
	}
}

// adapterChoice holds parsed notification configuration.
type adapterChoice struct {
	kind    string // "", "webhook" or "redis"
	url     string
	channel string
	headers map[string]string
	timeout time.Duration
	retries *int
}

// runSettings is the merged view of config file and flags for one run.
// Flags that were set explicitly win over file values.
type runSettings struct {
	outputRoot  string
	index       string
	cacheDir    string
	targetDir   string
	test        bool
	bench       bool
	release     bool
	force       bool
	stopOnError bool
	jobs        int
	exclude     []string // nil selects the built-in list
	batchID     string
	logLevel    string
	metricsAddr string

	cargo         builder.CargoConfig
	policy        policy.Name
	bufferRecords int
	storage       storageChoice
	adapter       adapterChoice
}

func loadConfigFile(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// resolveRunSettings merges the config file under the command-line flags.
func resolveRunSettings(c *cli.Context) (*runSettings, error) {
	file, err := loadConfigFile(c)
	if err != nil {
		return nil, err
	}

	str := func(flag, fromFile string) string {
		if c.IsSet(flag) || fromFile == "" {
			return c.String(flag)
		}
		return fromFile
	}
	boolean := func(flag string, fromFile bool) bool {
		if c.IsSet(flag) {
			return c.Bool(flag)
		}
		return fromFile || c.Bool(flag)
	}
	integer := func(flag string, fromFile int) int {
		if c.IsSet(flag) || fromFile == 0 {
			return c.Int(flag)
		}
		return fromFile
	}

	s := &runSettings{
		outputRoot:  str("out", file.OutputRoot),
		index:       str("index", file.Index),
		cacheDir:    str("cache-dir", file.CacheDir),
		targetDir:   str("target-dir", file.TargetDir),
		test:        boolean("test", file.Test),
		bench:       boolean("bench", file.Bench),
		release:     boolean("release", file.Release),
		force:       boolean("force", file.Force),
		stopOnError: boolean("stop-on-error", file.StopOnError),
		jobs:        integer("jobs", file.Jobs),
		batchID:     c.String("batch-id"),
		logLevel:    str("log-level", file.LogLevel),
		metricsAddr: str("metrics-addr", file.MetricsAddr),
		cargo: builder.CargoConfig{
			Path:      str("cargo", file.Cargo.Path),
			Toolchain: str("toolchain", file.Cargo.Toolchain),
			Env:       file.Cargo.Env,
		},
		policy:        policy.Name(str("policy", file.Policy.Name)),
		bufferRecords: integer("buffer-records", file.Policy.BufferRecords),
		storage: storageChoice{
			dataset:   str("storage-dataset", file.Storage.Dataset),
			backend:   str("storage-backend", file.Storage.Backend),
			path:      str("storage-path", file.Storage.Path),
			region:    str("storage-region", file.Storage.Region),
			endpoint:  str("storage-endpoint", file.Storage.Endpoint),
			pathStyle: boolean("storage-s3-path-style", file.Storage.S3PathStyle),
		},
		adapter: adapterChoice{
			kind:    str("adapter", file.Adapter.Type),
			url:     str("adapter-url", file.Adapter.URL),
			channel: str("adapter-channel", file.Adapter.Channel),
			headers: file.Adapter.Headers,
			timeout: file.Adapter.Timeout.Duration,
			retries: file.Adapter.Retries,
		},
	}

	switch {
	case c.IsSet("exclude"):
		s.exclude = c.StringSlice("exclude")
		if s.exclude == nil {
			s.exclude = []string{}
		}
	case file.Exclude != nil:
		s.exclude = *file.Exclude
	}
	if c.Bool("no-exclude") {
		s.exclude = []string{}
	}
	if c.IsSet("adapter-timeout") {
		s.adapter.timeout = c.Duration("adapter-timeout")
	}
	if c.IsSet("adapter-retries") {
		n := c.Int("adapter-retries")
		s.adapter.retries = &n
	}

	if s.index == "" {
		s.index = filepath.Join(s.outputRoot, "index")
	}
	if s.cacheDir == "" {
		s.cacheDir = filepath.Join(s.outputRoot, "cache")
	}
	if s.batchID == "" {
		s.batchID = uuid.NewString()
	}
	return s, s.validate()
}

func (s *runSettings) validate() error {
	if s.outputRoot == "" {
		return fmt.Errorf("output directory must not be empty")
	}
	if s.jobs < 1 {
		return fmt.Errorf("--jobs must be >= 1, got %d", s.jobs)
	}
	switch s.storage.backend {
	case "fs", "s3":
	default:
		return fmt.Errorf("unknown storage backend %q (must be fs or s3)", s.storage.backend)
	}
	switch s.policy {
	case policy.NameStrict, policy.NameBuffered, policy.NameNoop:
	default:
		return fmt.Errorf("invalid policy: %s (must be strict, buffered or noop)", s.policy)
	}
	if s.bufferRecords < 0 {
		return fmt.Errorf("--buffer-records must be >= 0, got %d", s.bufferRecords)
	}
	switch s.adapter.kind {
	case "":
	case "webhook", "redis":
		if s.adapter.url == "" {
			return fmt.Errorf("--adapter %s requires --adapter-url", s.adapter.kind)
		}
	default:
		return fmt.Errorf("unknown adapter %q (must be webhook or redis)", s.adapter.kind)
	}
	return nil
}
