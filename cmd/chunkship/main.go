package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	logAdapter "github.com/bft-labs/chunkship/internal/adapters/log"
	"github.com/bft-labs/chunkship/internal/adapters/spool"
	"github.com/bft-labs/chunkship/internal/cliconfig"
	"github.com/bft-labs/chunkship/pkg/chunkship"
)

const longHelp = `Relay device chunks from a spool directory to a chunks ingestion service.

Each subdirectory of the spool is a device identity; each regular file in it is
one chunk. Files are delivered in name order and deleted once queued. Chunks of
one device are never reordered; failed uploads are retried with exponential
backoff.`

var exampleUsage = strings.TrimSpace(`
  chunkship --spool-dir /var/spool/chunks --project-key <key>
  chunkship --config $HOME/.chunkship/config.toml --queue sqlite
  chunkship --spool-dir ./spool --project-key <key> --once
`)

// onceTimeout bounds the drain of --once runs.
const onceTimeout = 5 * time.Minute

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger()

	root := &cobra.Command{
		Use:          "chunkship",
		Short:        "Store-and-forward delivery of device chunks",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logAdapter.NewZerolog(os.Stderr, cfg.LogLevel, logAdapter.Format(cfg.LogFormat))
			if err != nil {
				return err
			}
			log = logger.Logger()
			log.Info().Interface("config", cfg.Redacted()).Msg("configuration")

			return run(cfg, logger)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.chunkship/config.toml)")
	f.StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "spool directory with one subdirectory per device")
	f.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for status.json and durable queues (defaults to <spool-dir>/.state)")
	f.StringVar(&cfg.ChunksURL, "chunks-url", cfg.ChunksURL, "chunks ingestion base URL")
	f.StringVar(&cfg.ProjectKey, "project-key", cfg.ProjectKey, "project key sent with every upload")

	f.StringVar(&cfg.QueueDriver, "queue", cfg.QueueDriver, "queue driver: memory, badger or sqlite")
	f.IntVar(&cfg.QueueMaxChunks, "queue-max-chunks", cfg.QueueMaxChunks, "maximum pending chunks per device (0 = unbounded)")
	f.IntVar(&cfg.QueueMaxBytes, "queue-max-bytes", cfg.QueueMaxBytes, "maximum pending bytes per device, memory queue only (0 = unbounded)")

	f.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "maximum chunks per upload")
	f.IntVar(&cfg.MaxBatchBytes, "max-batch-bytes", cfg.MaxBatchBytes, "maximum bytes per upload (0 = unlimited)")
	f.IntVar(&cfg.MaxConsecutiveErrors, "max-errors", cfg.MaxConsecutiveErrors, "failed attempts before a batch is dropped (0 = retry forever)")
	f.DurationVar(&cfg.MinPostInterval, "min-post-interval", cfg.MinPostInterval, "minimum delay between uploads of one device")
	f.DurationVar(&cfg.MinRetryDelay, "min-retry-delay", cfg.MinRetryDelay, "minimum delay before a retry")
	f.Float64Var(&cfg.BackoffFactor, "backoff-factor", cfg.BackoffFactor, "retry delay multiplier")
	f.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "first retry delay")
	f.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "maximum retry delay")

	f.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "interval of the periodic delivery request for every device")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout")
	f.BoolVar(&cfg.Gzip, "gzip", cfg.Gzip, "gzip request bodies")
	f.IntVar(&cfg.BreakerThreshold, "breaker-threshold", cfg.BreakerThreshold, "consecutive failed uploads that open the circuit breaker (0 = off)")
	f.DurationVar(&cfg.BreakerTimeout, "breaker-timeout", cfg.BreakerTimeout, "time the circuit breaker stays open")

	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	f.BoolVar(&cfg.Once, "once", cfg.Once, "ingest the spool once, wait for uploads and exit")

	if err := f.MarkHidden("chunks-url"); err != nil {
		log.Info().Err(err).Msg("failed to hide chunks-url flag")
	}

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("chunkship")
		os.Exit(1)
	}
}

// libraryConfig maps the CLI configuration onto the library's.
func libraryConfig(cfg cliconfig.Config) chunkship.Config {
	lib := chunkship.Config{
		ChunksURL:            cfg.ChunksURL,
		ProjectKey:           cfg.ProjectKey,
		HTTPTimeout:          cfg.HTTPTimeout,
		Gzip:                 cfg.Gzip,
		BreakerTimeout:       cfg.BreakerTimeout,
		QueueDriver:          chunkship.QueueDriver(cfg.QueueDriver),
		QueueMaxChunks:       cfg.QueueMaxChunks,
		QueueMaxBytes:        cfg.QueueMaxBytes,
		BatchSize:            cfg.BatchSize,
		MaxBatchBytes:        cfg.MaxBatchBytes,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		MinPostInterval:      cfg.MinPostInterval,
		MinRetryDelay:        cfg.MinRetryDelay,
		BackoffFactor:        cfg.BackoffFactor,
		BackoffInitial:       cfg.BackoffInitial,
		BackoffMax:           cfg.BackoffMax,
		FlushInterval:        cfg.FlushInterval,
		StatusDir:            cfg.StateDir,
	}
	if cfg.BreakerThreshold > 0 {
		lib.BreakerThreshold = uint32(cfg.BreakerThreshold)
	}
	switch lib.QueueDriver {
	case chunkship.QueueBadger:
		lib.QueuePath = filepath.Join(cfg.StateDir, "queue")
	case chunkship.QueueSQLite:
		lib.QueuePath = filepath.Join(cfg.StateDir, "queue.db")
	}
	return lib
}

func run(cfg cliconfig.Config, logger *logAdapter.Zerolog) error {
	log := logger.Logger()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	cs, err := chunkship.New(libraryConfig(cfg), chunkship.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create chunkship: %w", err)
	}

	watcher, err := spool.New(spool.Config{
		Dir:            cfg.SpoolDir,
		RescanInterval: spool.DefaultRescanInterval,
		MaxFileSize:    int64(cfg.QueueMaxBytes),
	}, cs, logger)
	if err != nil {
		_ = cs.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Once {
		return runOnce(ctx, cs, watcher, log)
	}

	if err := cs.Start(ctx); err != nil {
		_ = cs.Close()
		return fmt.Errorf("start chunkship: %w", err)
	}

	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("received signal, stopping...")
	case err = <-watchErr:
		if err != nil {
			log.Error().Err(err).Msg("spool watcher failed")
		}
	}

	if cerr := cs.Close(); cerr != nil {
		return fmt.Errorf("stop chunkship: %w", cerr)
	}
	return err
}

// runOnce ingests the spool, waits for the queues to drain and exits.
// Chunks that could not be delivered stay in a durable queue for the next run.
func runOnce(ctx context.Context, cs *chunkship.Chunkship, watcher *spool.Watcher, log zerolog.Logger) error {
	n, err := watcher.ScanAll(ctx)
	if err != nil {
		_ = cs.Close()
		return fmt.Errorf("scan spool: %w", err)
	}
	log.Info().Int("files", n).Msg("spool ingested")

	flushCtx, cancel := context.WithTimeout(ctx, onceTimeout)
	defer cancel()
	if err := cs.Flush(flushCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("flush incomplete")
	}

	for _, device := range cs.Devices() {
		if pending, _ := cs.Pending(device); pending > 0 {
			log.Info().Str("device", device).Int("pending", pending).Msg("chunks left in queue")
		}
	}
	return cs.Close()
}
