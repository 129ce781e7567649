package cliconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultChunksURL is the default chunks ingestion endpoint.
const DefaultChunksURL = "https://chunks.memfault.com"

// Queue drivers.
const (
	QueueMemory = "memory"
	QueueBadger = "badger"
	QueueSQLite = "sqlite"
)

// Config holds CLI configuration for chunkship.
type Config struct {
	SpoolDir string
	StateDir string

	ChunksURL  string
	ProjectKey string

	QueueDriver    string
	QueueMaxChunks int
	QueueMaxBytes  int

	BatchSize            int
	MaxBatchBytes        int
	MaxConsecutiveErrors int
	MinPostInterval      time.Duration
	MinRetryDelay        time.Duration
	BackoffFactor        float64
	BackoffInitial       time.Duration
	BackoffMax           time.Duration

	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Gzip          bool

	BreakerThreshold int
	BreakerTimeout   time.Duration

	LogLevel  string
	LogFormat string
	Once      bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ChunksURL:            DefaultChunksURL,
		QueueDriver:          QueueMemory,
		QueueMaxChunks:       10000,
		QueueMaxBytes:        64 << 20, // 64MB
		BatchSize:            100,
		MaxBatchBytes:        1 << 20, // 1MB
		MaxConsecutiveErrors: 100,
		MinPostInterval:      500 * time.Millisecond,
		BackoffFactor:        2,
		BackoffInitial:       500 * time.Millisecond,
		BackoffMax:           5 * time.Minute,
		FlushInterval:        time.Minute,
		HTTPTimeout:          30 * time.Second,
		BreakerThreshold:     5,
		BreakerTimeout:       30 * time.Second,
		LogLevel:             "info",
		LogFormat:            "console",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.SpoolDir == "" {
		return fmt.Errorf("spool-dir is required")
	}
	if c.StateDir == "" {
		// Dot-prefixed, so the spool watcher ignores it.
		c.StateDir = filepath.Join(c.SpoolDir, ".state")
	}
	if c.ProjectKey == "" {
		return fmt.Errorf("project-key is required")
	}

	if c.ChunksURL == "" {
		c.ChunksURL = DefaultChunksURL
	}
	c.ChunksURL = strings.TrimRight(c.ChunksURL, "/")

	c.QueueDriver = strings.ToLower(strings.TrimSpace(c.QueueDriver))
	switch c.QueueDriver {
	case QueueMemory, QueueBadger, QueueSQLite:
	case "":
		c.QueueDriver = QueueMemory
	default:
		return fmt.Errorf("unknown queue driver %q (want memory, badger or sqlite)", c.QueueDriver)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("max consecutive errors must not be negative")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q (want console or json)", c.LogFormat)
	}
	return nil
}

// Redacted returns a copy safe for logging.
func (c Config) Redacted() Config {
	if c.ProjectKey != "" {
		c.ProjectKey = "*****"
	}
	return c
}

// configSetter applies values unless the corresponding flag was set explicitly.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value, zero included, if present and flag not changed.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses an environment value. Zero is accepted when
// allowZero is set.
func (s *configSetter) setIntFromString(flag, value string, allowZero bool, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 || (i == 0 && !allowZero) {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses an environment value.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString accepts "true" and "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
