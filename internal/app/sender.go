package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

// Default sender configuration values.
const (
	DefaultBatchSize            = 100
	DefaultMaxConsecutiveErrors = 100
	DefaultMinPostInterval      = 500 * time.Millisecond
)

// SenderConfig contains configuration for a ChunkSender.
type SenderConfig struct {
	// BatchSize is the maximum number of chunks peeked for one transport call.
	BatchSize int

	// MaxBatchBytes caps the summed size of a batch. The head chunk is always
	// sent, even when it alone exceeds the cap. Zero disables the cap.
	MaxBatchBytes int

	// MaxConsecutiveErrors is the number of failed attempts after which the
	// head batch is dropped. Zero means retry forever and never drop.
	MaxConsecutiveErrors int

	// MinPostInterval is the minimum delay between two transport calls of the
	// same device, independent of backoff. Zero disables it.
	MinPostInterval time.Duration

	// MinRetryDelay is a floor applied to every backoff delay.
	MinRetryDelay time.Duration

	BackoffFactor  float64
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultSenderConfig returns a SenderConfig with default values.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		BatchSize:            DefaultBatchSize,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		MinPostInterval:      DefaultMinPostInterval,
		BackoffFactor:        DefaultBackoffFactor,
		BackoffInitial:       DefaultBackoffInitial,
		BackoffMax:           DefaultBackoffMax,
	}
}

// Validate checks the configuration for errors.
func (c SenderConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be at least 1", domain.ErrInvalidConfig)
	}
	if c.MaxBatchBytes < 0 {
		return fmt.Errorf("%w: max batch bytes must not be negative", domain.ErrInvalidConfig)
	}
	if c.MaxConsecutiveErrors < 0 {
		return fmt.Errorf("%w: max consecutive errors must not be negative", domain.ErrInvalidConfig)
	}
	if c.MinPostInterval < 0 || c.MinRetryDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", domain.ErrInvalidConfig)
	}
	_, err := NewBackoff(c.BackoffFactor, c.BackoffInitial, c.BackoffMax)
	return err
}

// ChunkSender delivers the queued chunks of one device, in order, with at
// most one transport call in flight.
//
// All state transitions happen under mu. Delivery runs on a single drain
// goroutine that exists only while the sender is Posting or WaitingBackoff
// (or while a call started before Stop is still resolving).
type ChunkSender struct {
	deviceID  string
	queue     ports.ChunkQueue
	transport ports.Transport
	logger    ports.Logger
	emitter   ports.EventEmitter
	cfg       SenderConfig
	limiter   *rate.Limiter

	// baseCtx is passed to the transport; it is never cancelled by Stop.
	baseCtx context.Context

	mu          sync.Mutex
	state       domain.SenderState
	backoff     *Backoff
	errCount    int
	attempt     int
	nextAttempt time.Time
	running     bool
	idle        chan struct{}
	waitCtx     context.Context
	cancelWait  context.CancelFunc
}

// NewChunkSender creates a sender for deviceID. The sender starts Idle.
// Transport calls receive ctx; cancelling it ends delivery for good.
func NewChunkSender(
	ctx context.Context,
	deviceID string,
	queue ports.ChunkQueue,
	transport ports.Transport,
	cfg SenderConfig,
	logger ports.Logger,
	emitter ports.EventEmitter,
) (*ChunkSender, error) {
	if deviceID == "" {
		return nil, domain.ErrInvalidDevice
	}
	if queue == nil || transport == nil {
		return nil, fmt.Errorf("%w: queue and transport are required", domain.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backoff, err := NewBackoff(cfg.BackoffFactor, cfg.BackoffInitial, cfg.BackoffMax)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.MinPostInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinPostInterval), 1)
	}

	return &ChunkSender{
		deviceID:  deviceID,
		queue:     queue,
		transport: transport,
		logger:    logger,
		emitter:   emitter,
		cfg:       cfg,
		limiter:   limiter,
		baseCtx:   ctx,
		state:     domain.SenderIdle,
		backoff:   backoff,
	}, nil
}

// DeviceID returns the device this sender delivers for.
func (s *ChunkSender) DeviceID() string {
	return s.deviceID
}

// EnqueueAndPost adds chunks to the queue and requests delivery.
// Delivery is requested even when the add is rejected, so that a full queue
// keeps draining; the rejection is returned (domain.ErrQueueFull).
func (s *ChunkSender) EnqueueAndPost(chunks []domain.Chunk) error {
	var addErr error
	if len(chunks) > 0 {
		if addErr = s.queue.Add(chunks); addErr != nil {
			s.logger.Warn("enqueue rejected",
				ports.String("device", s.deviceID),
				ports.Int("chunks", len(chunks)),
				ports.Err(addErr),
			)
		}
	}
	s.Post()
	return addErr
}

// Post requests delivery of the queued chunks. It never blocks on I/O.
// A request while a cycle is Posting or WaitingBackoff is coalesced into it.
// A Stopped sender resumes.
func (s *ChunkSender) Post() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SenderPosting || s.state == domain.SenderWaitingBackoff {
		return
	}
	if s.baseCtx.Err() != nil {
		return
	}
	if s.queue.Count() == 0 {
		s.state = domain.SenderIdle
		return
	}

	s.state = domain.SenderPosting
	if s.cancelWait != nil {
		s.cancelWait()
	}
	s.waitCtx, s.cancelWait = context.WithCancel(s.baseCtx)

	// A call dispatched before an earlier Stop may still be resolving; its
	// goroutine picks the new state up when it completes.
	if !s.running {
		s.running = true
		s.idle = make(chan struct{})
		go s.drain()
	}
}

// Stop prevents new transport calls until the next Post. Chunks can still be
// added. A pending backoff or rate-limit wait is abandoned; a call already in
// flight completes and its result is applied, without starting another.
func (s *ChunkSender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SenderStopped {
		return
	}
	s.state = domain.SenderStopped
	if s.cancelWait != nil {
		s.cancelWait()
	}
	s.logger.Debug("sender stopped", ports.String("device", s.deviceID))
}

// IsPosting reports whether a delivery cycle is active, including a pending retry.
func (s *ChunkSender) IsPosting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.SenderPosting || s.state == domain.SenderWaitingBackoff
}

// State returns the current sender state.
func (s *ChunkSender) State() domain.SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConsecutiveErrors returns the number of failed attempts of the head batch.
func (s *ChunkSender) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCount
}

// Pending returns the number of chunks waiting in the queue.
func (s *ChunkSender) Pending() int {
	return s.queue.Count()
}

// Wait blocks until the drain goroutine has exited or ctx is done.
func (s *ChunkSender) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs delivery cycles until the sender leaves Posting/WaitingBackoff.
func (s *ChunkSender) drain() {
	for {
		waitCtx, until, ok := s.beginCycle()
		if !ok {
			return
		}

		if !sleepUntil(waitCtx, until) {
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(waitCtx); err != nil {
				continue
			}
		}

		batch, ok := s.peekBatch()
		if !ok {
			continue
		}

		start := time.Now()
		err := s.transport.Post(s.baseCtx, s.deviceID, batch)
		s.complete(batch, err, time.Since(start))
	}
}

// beginCycle returns the wait context and the earliest next attempt time,
// or ok=false after marking the goroutine as gone when there is nothing to do.
func (s *ChunkSender) beginCycle() (context.Context, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.baseCtx.Err() != nil {
		s.state = domain.SenderStopped
	}
	if s.state == domain.SenderPosting || s.state == domain.SenderWaitingBackoff {
		return s.waitCtx, s.nextAttempt, true
	}

	s.running = false
	close(s.idle)
	s.idle = nil
	if s.cancelWait != nil {
		s.cancelWait()
		s.cancelWait = nil
	}
	return nil, time.Time{}, false
}

// peekBatch reads the head batch. ok=false means no call should be made on
// this pass: the sender was stopped, the queue is empty, or the peek failed
// and a retry was scheduled.
func (s *ChunkSender) peekBatch() ([]domain.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.SenderPosting && s.state != domain.SenderWaitingBackoff {
		return nil, false
	}

	batch, err := s.queue.Peek(s.cfg.BatchSize)
	if err != nil {
		delay := s.retryDelayLocked()
		s.state = domain.SenderWaitingBackoff
		s.logger.Error("queue peek failed",
			ports.String("device", s.deviceID),
			ports.Err(err),
			ports.Duration("retry_in", delay),
		)
		return nil, false
	}
	if len(batch) == 0 {
		s.state = domain.SenderIdle
		return nil, false
	}

	s.state = domain.SenderPosting
	s.attempt++
	return domain.FitBatch(batch, s.cfg.MaxBatchBytes), true
}

// complete applies the result of a transport call and reports it.
func (s *ChunkSender) complete(batch []domain.Chunk, err error, took time.Duration) {
	s.mu.Lock()

	outcome := domain.Outcome{
		DeviceID:   s.deviceID,
		ChunkCount: len(batch),
		Bytes:      domain.TotalBytes(batch),
		Attempt:    s.attempt,
		Duration:   took,
		Err:        err,
	}

	switch {
	case err == nil:
		s.dropLocked(len(batch))
		s.resetLocked()
		s.logger.Info("sent batch",
			ports.String("device", s.deviceID),
			ports.Int("chunks", outcome.ChunkCount),
			ports.Int("bytes", outcome.Bytes),
			ports.Duration("duration", took),
		)

	case errors.Is(err, domain.ErrAlreadyInFlight):
		// The transport saw an overlapping call; retrying would only repeat it.
		if s.state != domain.SenderStopped {
			s.state = domain.SenderIdle
		}
		s.logger.Error("transport reported overlapping post",
			ports.String("device", s.deviceID),
			ports.Err(err),
		)

	case errors.Is(err, domain.ErrCircuitOpen):
		// Nothing reached the service, so the batch keeps its error budget.
		outcome.RetryIn = s.retryDelayLocked()
		if s.state == domain.SenderPosting {
			s.state = domain.SenderWaitingBackoff
		}
		s.logger.Warn("circuit open, send deferred",
			ports.String("device", s.deviceID),
			ports.Int("chunks", outcome.ChunkCount),
			ports.Int("consecutive_errors", s.errCount),
			ports.Duration("retry_in", outcome.RetryIn),
		)

	case s.cfg.MaxConsecutiveErrors > 0 && s.errCount+1 >= s.cfg.MaxConsecutiveErrors:
		s.dropLocked(len(batch))
		s.resetLocked()
		outcome.Dropped = true
		s.logger.Error("dropping batch after consecutive failures",
			ports.String("device", s.deviceID),
			ports.Int("chunks", outcome.ChunkCount),
			ports.Int("attempts", outcome.Attempt),
			ports.Err(err),
		)

	default:
		s.errCount++
		outcome.RetryIn = s.retryDelayLocked()
		if s.state == domain.SenderPosting {
			s.state = domain.SenderWaitingBackoff
		}
		s.logger.Warn("send failed",
			ports.String("device", s.deviceID),
			ports.Int("chunks", outcome.ChunkCount),
			ports.Int("consecutive_errors", s.errCount),
			ports.Duration("retry_in", outcome.RetryIn),
			ports.Err(err),
		)
	}

	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.OnOutcome(outcome)
	}
}

// retryDelayLocked advances the backoff and records when the next attempt may start.
func (s *ChunkSender) retryDelayLocked() time.Duration {
	delay := s.backoff.Bump()
	if delay < s.cfg.MinRetryDelay {
		delay = s.cfg.MinRetryDelay
	}
	s.nextAttempt = time.Now().Add(delay)
	return delay
}

func (s *ChunkSender) resetLocked() {
	s.backoff.Reset()
	s.errCount = 0
	s.attempt = 0
	s.nextAttempt = time.Time{}
}

func (s *ChunkSender) dropLocked(n int) {
	if err := s.queue.Drop(n); err != nil {
		// The chunks stay queued and will be delivered again.
		s.logger.Error("queue drop failed",
			ports.String("device", s.deviceID),
			ports.Int("chunks", n),
			ports.Err(err),
		)
	}
}

// sleepUntil waits until t or until ctx is done. Returns false if ctx ended first.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if t.IsZero() || d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
