package config

import (
	"fmt"
	"time"
)

// Config represents a cratesio-perf.yaml file. Every value is a default for
// the matching run flag; flags always win.
type Config struct {
	OutputRoot  string        `yaml:"output_root"`
	Index       string        `yaml:"index"`
	CacheDir    string        `yaml:"cache_dir"`
	TargetDir   string        `yaml:"target_dir"`
	Test        bool          `yaml:"test"`
	Bench       bool          `yaml:"bench"`
	Release     bool          `yaml:"release"`
	Force       bool          `yaml:"force"`
	StopOnError bool          `yaml:"stop_on_error"`
	Jobs        int           `yaml:"jobs"`
	Exclude     *[]string     `yaml:"exclude"`
	LogLevel    string        `yaml:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Cargo       CargoConfig   `yaml:"cargo"`
	Storage     StorageConfig `yaml:"storage"`
	Policy      PolicyConfig  `yaml:"policy"`
	Adapter     AdapterConfig `yaml:"adapter"`
}

// CargoConfig selects the cargo binary and its environment.
type CargoConfig struct {
	Path      string   `yaml:"path"`
	Toolchain string   `yaml:"toolchain"`
	Env       []string `yaml:"env"`
}

// StorageConfig holds results-store defaults.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PolicyConfig selects how records reach the results store.
type PolicyConfig struct {
	Name          string `yaml:"name"`
	BufferRecords int    `yaml:"buffer_records"`
}

// AdapterConfig holds batch-completion notification defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects values no flag combination could fix.
func (c *Config) Validate() error {
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must be >= 0, got %d", c.Jobs)
	}
	switch c.Storage.Backend {
	case "", "fs", "s3":
	default:
		return fmt.Errorf("unknown storage backend %q (want fs or s3)", c.Storage.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("unknown adapter type %q (want webhook or redis)", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter %s requires a url", c.Adapter.Type)
	}
	if c.Policy.BufferRecords < 0 {
		return fmt.Errorf("policy.buffer_records must be >= 0, got %d", c.Policy.BufferRecords)
	}
	return nil
}
