package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

// DefaultStatusInterval is how often a changed status is written.
const DefaultStatusInterval = 5 * time.Second

// StatusRecorder folds delivery outcomes into a domain.Status and persists it
// periodically. It implements ports.EventEmitter.
type StatusRecorder struct {
	repo   ports.StatusRepository
	logger ports.Logger
	now    func() time.Time

	mu     sync.Mutex
	status domain.Status
	dirty  bool
}

// NewStatusRecorder creates a recorder persisting to repo.
func NewStatusRecorder(repo ports.StatusRepository, logger ports.Logger) *StatusRecorder {
	return &StatusRecorder{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		status: domain.Status{Devices: map[string]domain.DeviceStatus{}},
	}
}

// Load restores the last persisted status. Counters keep growing from there.
func (r *StatusRecorder) Load(ctx context.Context) error {
	st, err := r.repo.Load(ctx)
	if err != nil {
		return err
	}
	if st.Devices == nil {
		st.Devices = map[string]domain.DeviceStatus{}
	}
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
	return nil
}

// OnOutcome records one delivery attempt.
func (r *StatusRecorder) OnOutcome(o domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Apply(o, r.now())
	r.dirty = true
}

// Snapshot returns a copy of the current status.
func (r *StatusRecorder) Snapshot() domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make(map[string]domain.DeviceStatus, len(r.status.Devices))
	for id, d := range r.status.Devices {
		devices[id] = d
	}
	return domain.Status{Devices: devices, UpdatedAt: r.status.UpdatedAt}
}

// Flush writes the status if it changed since the last write.
func (r *StatusRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	r.dirty = false
	r.mu.Unlock()

	if err := r.repo.Save(ctx, r.Snapshot()); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (r *StatusRecorder) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(context.Background()); err != nil {
				r.logger.Error("final status save failed", ports.Err(err))
			}
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("status save failed", ports.Err(err))
			}
		}
	}
}

// MultiEmitter fans an outcome out to several emitters in order.
type MultiEmitter []ports.EventEmitter

// OnOutcome implements ports.EventEmitter.
func (m MultiEmitter) OnOutcome(o domain.Outcome) {
	for _, e := range m {
		if e != nil {
			e.OnOutcome(o)
		}
	}
}
