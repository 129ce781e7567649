package chunkship

import (
	"fmt"
	"time"

	httpAdapter "github.com/bft-labs/chunkship/internal/adapters/http"
	"github.com/bft-labs/chunkship/internal/app"
	"github.com/bft-labs/chunkship/internal/domain"
)

// DefaultChunksURL is the default chunks ingestion service.
const DefaultChunksURL = httpAdapter.DefaultChunksURL

// QueueDriver selects where pending chunks are kept.
type QueueDriver string

const (
	// QueueMemory keeps chunks in process memory. They are lost on exit.
	QueueMemory QueueDriver = "memory"
	// QueueBadger keeps chunks in a Badger database directory.
	QueueBadger QueueDriver = "badger"
	// QueueSQLite keeps chunks in a SQLite database file.
	QueueSQLite QueueDriver = "sqlite"
)

// Default configuration values.
const (
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultBreakerTimeout = 30 * time.Second
)

// Config contains the configuration of a Chunkship instance.
// Start from DefaultConfig: several fields treat zero as "disabled" and are
// left untouched by SetDefaults.
type Config struct {
	// ChunksURL is the base URL of the ingestion service.
	ChunksURL string

	// ProjectKey authenticates requests. Required unless a custom transport
	// is supplied with WithTransport.
	ProjectKey string

	// HTTPTimeout bounds each request of the default HTTP client.
	HTTPTimeout time.Duration

	// Gzip compresses request bodies.
	Gzip bool

	// BreakerThreshold is the number of consecutive failed requests, across
	// all devices, after which requests fail fast for BreakerTimeout.
	// Zero disables the circuit breaker.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// QueueDriver selects the queue backend. Defaults to QueueMemory.
	QueueDriver QueueDriver

	// QueuePath is the Badger directory or SQLite file. Required for the
	// durable drivers.
	QueuePath string

	// QueueMaxChunks caps the pending chunks per device. Zero is unbounded.
	QueueMaxChunks int

	// QueueMaxBytes caps the pending bytes per device (memory driver only).
	// Zero is unbounded.
	QueueMaxBytes int

	// BatchSize is the maximum number of chunks sent in one request.
	BatchSize int

	// MaxBatchBytes caps the size of one request. Zero disables the cap.
	MaxBatchBytes int

	// MaxConsecutiveErrors drops the head batch after that many failed
	// attempts. Zero retries forever.
	MaxConsecutiveErrors int

	// MinPostInterval is the minimum delay between two requests of one device.
	// Zero disables it.
	MinPostInterval time.Duration

	// MinRetryDelay is a floor for every retry delay.
	MinRetryDelay time.Duration

	BackoffFactor  float64
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// FlushInterval, when positive, makes Start schedule a delivery request
	// for every known device at that interval.
	FlushInterval time.Duration

	// StatusDir, when set, makes Start persist per-device delivery counters
	// to StatusDir/status.json every StatusInterval.
	StatusDir      string
	StatusInterval time.Duration
}

// DefaultConfig returns a Config with default values. ProjectKey must still be set.
func DefaultConfig() Config {
	s := app.DefaultSenderConfig()
	cfg := Config{
		MaxConsecutiveErrors: s.MaxConsecutiveErrors,
		MinPostInterval:      s.MinPostInterval,
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields whose zero value is not meaningful.
func (c *Config) SetDefaults() {
	s := app.DefaultSenderConfig()
	if c.ChunksURL == "" {
		c.ChunksURL = DefaultChunksURL
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.BreakerThreshold > 0 && c.BreakerTimeout == 0 {
		c.BreakerTimeout = DefaultBreakerTimeout
	}
	if c.QueueDriver == "" {
		c.QueueDriver = QueueMemory
	}
	if c.BatchSize == 0 {
		c.BatchSize = s.BatchSize
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = s.BackoffFactor
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = s.BackoffInitial
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = s.BackoffMax
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = app.DefaultStatusInterval
	}
}

// Validate checks the configuration for errors.
// Returns an error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	switch c.QueueDriver {
	case QueueMemory:
	case QueueBadger, QueueSQLite:
		if c.QueuePath == "" {
			return fmt.Errorf("%w: queue path is required for the %s driver", domain.ErrInvalidConfig, c.QueueDriver)
		}
	default:
		return fmt.Errorf("%w: unknown queue driver %q", domain.ErrInvalidConfig, c.QueueDriver)
	}
	if c.QueueMaxChunks < 0 || c.QueueMaxBytes < 0 {
		return fmt.Errorf("%w: queue limits must not be negative", domain.ErrInvalidConfig)
	}
	if c.HTTPTimeout < 0 || c.FlushInterval < 0 || c.StatusInterval < 0 || c.BreakerTimeout < 0 {
		return fmt.Errorf("%w: intervals must not be negative", domain.ErrInvalidConfig)
	}
	return c.senderConfig().Validate()
}

func (c Config) senderConfig() app.SenderConfig {
	return app.SenderConfig{
		BatchSize:            c.BatchSize,
		MaxBatchBytes:        c.MaxBatchBytes,
		MaxConsecutiveErrors: c.MaxConsecutiveErrors,
		MinPostInterval:      c.MinPostInterval,
		MinRetryDelay:        c.MinRetryDelay,
		BackoffFactor:        c.BackoffFactor,
		BackoffInitial:       c.BackoffInitial,
		BackoffMax:           c.BackoffMax,
	}
}

func (c Config) transportConfig() httpAdapter.Config {
	tc := httpAdapter.Config{
		ChunksURL:  c.ChunksURL,
		ProjectKey: c.ProjectKey,
		Gzip:       c.Gzip,
		Version:    Version,
	}
	if c.BreakerThreshold > 0 {
		tc.Breaker = &httpAdapter.BreakerConfig{
			FailureThreshold: c.BreakerThreshold,
			ResetTimeout:     c.BreakerTimeout,
		}
	}
	return tc
}
