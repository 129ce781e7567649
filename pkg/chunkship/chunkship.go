package chunkship

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/bft-labs/chunkship/internal/adapters/badgerqueue"
	"github.com/bft-labs/chunkship/internal/adapters/fs"
	httpAdapter "github.com/bft-labs/chunkship/internal/adapters/http"
	logAdapter "github.com/bft-labs/chunkship/internal/adapters/log"
	"github.com/bft-labs/chunkship/internal/adapters/memqueue"
	"github.com/bft-labs/chunkship/internal/adapters/sqlitequeue"
	"github.com/bft-labs/chunkship/internal/app"
	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

// Chunk is one opaque piece of device data.
type Chunk = domain.Chunk

// DeviceStatus holds the persisted delivery counters of one device.
type DeviceStatus = domain.DeviceStatus

// deviceLister is implemented by durable queue backends.
type deviceLister interface {
	Devices() ([]string, error)
}

// Chunkship relays device chunks to the ingestion service, one ordered
// delivery pipeline per device. Use New to create an instance.
//
// Delivery starts as soon as chunks are enqueued; Start only adds the
// background workers (flush scheduler, status recorder). Close releases
// everything.
type Chunkship struct {
	config    Config
	logger    ports.Logger
	lifecycle *app.Lifecycle
	registry  *app.Registry
	recorder  *app.StatusRecorder
	store     io.Closer

	// baseCtx is handed to every transport call; only Close cancels it.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New creates a Chunkship instance in StateStopped.
// Returns an error wrapping ErrInvalidConfig if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Chunkship, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logAdapter.Noop{}
	}

	transport := o.transport
	if transport == nil {
		client := o.httpClient
		if client == nil {
			client = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		t, err := httpAdapter.NewTransport(client, cfg.transportConfig(), logger)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	provider := o.queueProvider
	var store io.Closer
	if provider == nil {
		var err error
		if provider, store, err = openQueue(cfg, logger); err != nil {
			return nil, err
		}
	}

	wrapper := &eventEmitterWrapper{handler: o.eventHandler}
	emitters := app.MultiEmitter{wrapper}

	var recorder *app.StatusRecorder
	if cfg.StatusDir != "" {
		recorder = app.NewStatusRecorder(fs.NewStatusFile(cfg.StatusDir), logger)
		if err := recorder.Load(context.Background()); err != nil {
			logger.Warn("delivery status not restored", ports.Err(err))
		}
		emitters = append(emitters, recorder)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	factory := app.NewSenderFactory(baseCtx, provider, transport, cfg.senderConfig(), logger, emitters)
	registry := app.NewRegistry(factory, logger)

	if lister, ok := provider.(deviceLister); ok {
		devices, err := lister.Devices()
		if err != nil {
			cancel()
			closeStore(store, logger)
			return nil, err
		}
		for _, id := range devices {
			if _, err := registry.SenderFor(id); err != nil {
				cancel()
				closeStore(store, logger)
				return nil, err
			}
		}
		if len(devices) > 0 {
			logger.Info("restored pending devices", ports.Int("devices", len(devices)))
		}
	}

	return &Chunkship{
		config:     cfg,
		logger:     logger,
		lifecycle:  app.NewLifecycle(logger, wrapper),
		registry:   registry,
		recorder:   recorder,
		store:      store,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}, nil
}

func openQueue(cfg Config, logger ports.Logger) (ports.ChunkQueueProvider, io.Closer, error) {
	switch cfg.QueueDriver {
	case QueueBadger:
		s, err := badgerqueue.Open(cfg.QueuePath, cfg.QueueMaxChunks, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case QueueSQLite:
		s, err := sqlitequeue.Open(cfg.QueuePath, cfg.QueueMaxChunks)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return memqueue.NewProvider(memqueue.Limits{
			MaxChunks: cfg.QueueMaxChunks,
			MaxBytes:  cfg.QueueMaxBytes,
		}), nil, nil
	}
}

func closeStore(store io.Closer, logger ports.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Error("close queue store", ports.Err(err))
	}
}

// withSender runs fn with the sender of deviceID, creating it on first use.
// The read lock is held until fn returns, so Close cannot close the queue
// store under a running enqueue.
func (c *Chunkship) withSender(deviceID string, fn func(*app.ChunkSender) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrNotRunning
	}
	s, err := c.registry.SenderFor(deviceID)
	if err != nil {
		return err
	}
	return fn(s)
}

// EnqueueAndPost adds chunks to the device's queue and requests delivery.
// Returns ErrQueueFull if the queue rejected the chunks; delivery of what is
// already queued is requested regardless.
func (c *Chunkship) EnqueueAndPost(deviceID string, chunks []Chunk) error {
	return c.withSender(deviceID, func(s *app.ChunkSender) error {
		return s.EnqueueAndPost(chunks)
	})
}

// Post requests delivery of the device's queued chunks. It resumes a stopped
// device.
func (c *Chunkship) Post(deviceID string) error {
	return c.withSender(deviceID, func(s *app.ChunkSender) error {
		s.Post()
		return nil
	})
}

// Stop prevents new requests for the device until the next Post or
// EnqueueAndPost. A request already in flight completes.
func (c *Chunkship) Stop(deviceID string) error {
	if deviceID == "" {
		return domain.ErrInvalidDevice
	}
	if s, ok := c.registry.Lookup(deviceID); ok {
		s.Stop()
	}
	return nil
}

// PostAll requests delivery for every known device.
func (c *Chunkship) PostAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.registry.PostAll()
}

// StopAll stops every known device.
func (c *Chunkship) StopAll() {
	c.registry.StopAll()
}

// IsPosting reports whether a delivery cycle, including a pending retry, is
// active for the device.
func (c *Chunkship) IsPosting(deviceID string) bool {
	s, ok := c.registry.Lookup(deviceID)
	return ok && s.IsPosting()
}

// Pending returns the number of chunks queued for the device.
func (c *Chunkship) Pending(deviceID string) (int, error) {
	var n int
	err := c.withSender(deviceID, func(s *app.ChunkSender) error {
		n = s.Pending()
		return nil
	})
	return n, err
}

// Devices returns the known device identities, sorted.
func (c *Chunkship) Devices() []string {
	return c.registry.Devices()
}

// Flush requests delivery for every device and waits until no device has an
// active delivery cycle, or ctx is done. With MaxConsecutiveErrors set to
// zero and an unreachable service, only ctx ends the wait.
func (c *Chunkship) Flush(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return domain.ErrNotRunning
	}
	c.registry.PostAll()
	c.mu.RUnlock()

	return c.registry.Wait(ctx)
}

// Start launches the background workers and requests delivery of chunks
// restored from a durable queue. Returns ErrAlreadyRunning if already started.
// Cancelling ctx stops the workers; delivery continues until Close.
func (c *Chunkship) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrNotRunning
	}
	if !c.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := c.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.lifecycle.SetCancel(cancel)

	if c.config.FlushInterval > 0 {
		flusher, err := app.NewFlushScheduler(c.config.FlushInterval, c.PostAll, c.logger)
		if err != nil {
			cancel()
			_ = c.lifecycle.TransitionTo(app.StateCrashed, "flush scheduler: "+err.Error())
			return err
		}
		c.lifecycle.Go(func() { flusher.Run(runCtx) })
		c.logger.Info("flush scheduler started", ports.Duration("interval", c.config.FlushInterval))
	}

	if c.recorder != nil {
		interval := c.config.StatusInterval
		c.lifecycle.Go(func() { c.recorder.Run(runCtx, interval) })
	}

	c.registry.PostAll()
	return c.lifecycle.TransitionTo(app.StateRunning, "workers started")
}

// Close stops every device, waits up to 30 seconds for requests in flight,
// persists the delivery status and closes the queue store.
// Returns ErrShutdownTimeout if the wait expired, ErrNotRunning if already closed.
func (c *Chunkship) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrNotRunning
	}
	c.closed = true
	started := c.lifecycle.CanStop()
	if started {
		_ = c.lifecycle.TransitionTo(app.StateStopping, "Close() called")
	}
	c.mu.Unlock()

	// Workers first, so the flush scheduler cannot resume stopped senders.
	c.lifecycle.Cancel()
	err := c.lifecycle.WaitWithTimeout(app.ShutdownTimeout)

	c.registry.StopAll()
	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	if werr := c.registry.Wait(ctx); werr != nil {
		c.logger.Warn("requests still in flight at shutdown", ports.Err(werr))
		err = domain.ErrShutdownTimeout
	}

	if c.recorder != nil {
		if ferr := c.recorder.Flush(context.Background()); ferr != nil {
			c.logger.Error("save delivery status", ports.Err(ferr))
		}
	}

	c.cancelBase()
	closeStore(c.store, c.logger)

	if started {
		if err != nil {
			_ = c.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
		} else {
			_ = c.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
		}
	}
	return err
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (c *Chunkship) Status() State {
	return convertState(c.lifecycle.State())
}

// DeliveryStatus returns the delivery counters of every device that had a
// delivery attempt. It is nil unless Config.StatusDir is set.
func (c *Chunkship) DeliveryStatus() map[string]DeviceStatus {
	if c.recorder == nil {
		return nil
	}
	return c.recorder.Snapshot().Devices
}
