package cliconfig

import (
	"os"
	"time"
)

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "CHUNKSHIP_"

// ApplyEnvConfig applies CHUNKSHIP_* variables to cfg, leaving explicitly set
// flags alone. Environment values override the config file.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	s.setString("spool-dir", env("SPOOL_DIR"), &cfg.SpoolDir)
	s.setString("state-dir", env("STATE_DIR"), &cfg.StateDir)
	s.setString("chunks-url", env("CHUNKS_URL"), &cfg.ChunksURL)
	s.setString("project-key", env("PROJECT_KEY"), &cfg.ProjectKey)
	s.setString("queue", env("QUEUE_DRIVER"), &cfg.QueueDriver)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)

	ints := []struct {
		flag      string
		name      string
		allowZero bool
		dst       *int
	}{
		{"queue-max-chunks", "QUEUE_MAX_CHUNKS", true, &cfg.QueueMaxChunks},
		{"queue-max-bytes", "QUEUE_MAX_BYTES", true, &cfg.QueueMaxBytes},
		{"batch-size", "BATCH_SIZE", false, &cfg.BatchSize},
		{"max-batch-bytes", "MAX_BATCH_BYTES", true, &cfg.MaxBatchBytes},
		{"max-errors", "MAX_CONSECUTIVE_ERRORS", true, &cfg.MaxConsecutiveErrors},
		{"breaker-threshold", "BREAKER_THRESHOLD", true, &cfg.BreakerThreshold},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, env(i.name), i.allowZero, i.dst); err != nil {
			return err
		}
	}

	if err := s.setFloatFromString("backoff-factor", env("BACKOFF_FACTOR"), &cfg.BackoffFactor); err != nil {
		return err
	}

	durations := []struct {
		flag string
		name string
		dst  *time.Duration
	}{
		{"min-post-interval", "MIN_POST_INTERVAL", &cfg.MinPostInterval},
		{"min-retry-delay", "MIN_RETRY_DELAY", &cfg.MinRetryDelay},
		{"backoff-initial", "BACKOFF_INITIAL", &cfg.BackoffInitial},
		{"backoff-max", "BACKOFF_MAX", &cfg.BackoffMax},
		{"flush-interval", "FLUSH_INTERVAL", &cfg.FlushInterval},
		{"timeout", "HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"breaker-timeout", "BREAKER_TIMEOUT", &cfg.BreakerTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, env(d.name), d.dst); err != nil {
			return err
		}
	}

	s.setBoolFromString("gzip", env("GZIP"), &cfg.Gzip)
	s.setBoolFromString("once", env("ONCE"), &cfg.Once)
	return nil
}
