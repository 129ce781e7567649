package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

// FlushScheduler periodically requests delivery on every sender, so chunks
// left behind by a Stop or by a rejected enqueue are eventually retried.
// Intervals below one second are rounded up by cron.
type FlushScheduler struct {
	c      *cron.Cron
	logger ports.Logger
}

// NewFlushScheduler creates a scheduler calling flush every interval.
func NewFlushScheduler(interval time.Duration, flush func(), logger ports.Logger) (*FlushScheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: flush interval must be positive", domain.ErrInvalidConfig)
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc("@every "+interval.String(), flush); err != nil {
		return nil, fmt.Errorf("schedule flush: %w", err)
	}
	return &FlushScheduler{c: c, logger: logger}, nil
}

// Run starts the schedule and blocks until ctx is done. A running flush is
// waited for before returning.
func (f *FlushScheduler) Run(ctx context.Context) {
	f.c.Start()
	<-ctx.Done()
	<-f.c.Stop().Done()
}

// cronLogger adapts ports.Logger to cron.Logger.
type cronLogger struct {
	logger ports.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(kvFields(keysAndValues), ports.Err(err))...)
}

func kvFields(kv []interface{}) []ports.Field {
	fields := make([]ports.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, ports.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
