package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with string durations for TOML.
type FileConfig struct {
	SpoolDir   string `toml:"spool_dir"`
	StateDir   string `toml:"state_dir"`
	ChunksURL  string `toml:"chunks_url"`
	ProjectKey string `toml:"project_key"`

	Queue struct {
		Driver    string `toml:"driver"`
		MaxChunks *int   `toml:"max_chunks"`
		MaxBytes  *int   `toml:"max_bytes"`
	} `toml:"queue"`

	Sender struct {
		BatchSize            int     `toml:"batch_size"`
		MaxBatchBytes        *int    `toml:"max_batch_bytes"`
		MaxConsecutiveErrors *int    `toml:"max_consecutive_errors"`
		MinPostInterval      string  `toml:"min_post_interval"`
		MinRetryDelay        string  `toml:"min_retry_delay"`
		BackoffFactor        float64 `toml:"backoff_factor"`
		BackoffInitial       string  `toml:"backoff_initial"`
		BackoffMax           string  `toml:"backoff_max"`
	} `toml:"sender"`

	FlushInterval    string `toml:"flush_interval"`
	HTTPTimeout      string `toml:"http_timeout"`
	Gzip             *bool  `toml:"gzip"`
	BreakerThreshold *int   `toml:"breaker_threshold"`
	BreakerTimeout   string `toml:"breaker_timeout"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	Once      *bool  `toml:"once"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.chunkship/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".chunkship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies file values to cfg, leaving explicitly set flags alone.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("spool-dir", fc.SpoolDir, &cfg.SpoolDir)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("chunks-url", fc.ChunksURL, &cfg.ChunksURL)
	s.setString("project-key", fc.ProjectKey, &cfg.ProjectKey)
	s.setString("queue", fc.Queue.Driver, &cfg.QueueDriver)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	s.setIntPtr("queue-max-chunks", fc.Queue.MaxChunks, &cfg.QueueMaxChunks)
	s.setIntPtr("queue-max-bytes", fc.Queue.MaxBytes, &cfg.QueueMaxBytes)
	s.setInt("batch-size", fc.Sender.BatchSize, &cfg.BatchSize)
	s.setIntPtr("max-batch-bytes", fc.Sender.MaxBatchBytes, &cfg.MaxBatchBytes)
	s.setIntPtr("max-errors", fc.Sender.MaxConsecutiveErrors, &cfg.MaxConsecutiveErrors)
	s.setIntPtr("breaker-threshold", fc.BreakerThreshold, &cfg.BreakerThreshold)
	s.setFloat("backoff-factor", fc.Sender.BackoffFactor, &cfg.BackoffFactor)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"min-post-interval", fc.Sender.MinPostInterval, &cfg.MinPostInterval},
		{"min-retry-delay", fc.Sender.MinRetryDelay, &cfg.MinRetryDelay},
		{"backoff-initial", fc.Sender.BackoffInitial, &cfg.BackoffInitial},
		{"backoff-max", fc.Sender.BackoffMax, &cfg.BackoffMax},
		{"flush-interval", fc.FlushInterval, &cfg.FlushInterval},
		{"timeout", fc.HTTPTimeout, &cfg.HTTPTimeout},
		{"breaker-timeout", fc.BreakerTimeout, &cfg.BreakerTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setBool("gzip", fc.Gzip, &cfg.Gzip)
	s.setBool("once", fc.Once, &cfg.Once)
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
