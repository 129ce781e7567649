package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

// SenderFactory creates the sender for a device identity.
// It is called at most once per identity by a Registry.
type SenderFactory func(deviceID string) (*ChunkSender, error)

// NewSenderFactory returns a factory building senders that share a transport,
// configuration, logger and emitter, each with its own queue from provider.
func NewSenderFactory(
	ctx context.Context,
	provider ports.ChunkQueueProvider,
	transport ports.Transport,
	cfg SenderConfig,
	logger ports.Logger,
	emitter ports.EventEmitter,
) SenderFactory {
	return func(deviceID string) (*ChunkSender, error) {
		queue, err := provider.QueueFor(deviceID)
		if err != nil {
			return nil, fmt.Errorf("queue for %s: %w", deviceID, err)
		}
		return NewChunkSender(ctx, deviceID, queue, transport, cfg, logger, emitter)
	}
}

// Registry keeps exactly one ChunkSender per device identity.
// Senders are created lazily and kept for the registry's lifetime.
type Registry struct {
	mu      sync.Mutex
	senders map[string]*ChunkSender
	factory SenderFactory
	logger  ports.Logger
}

// NewRegistry creates an empty registry using factory to build senders.
func NewRegistry(factory SenderFactory, logger ports.Logger) *Registry {
	return &Registry{
		senders: make(map[string]*ChunkSender),
		factory: factory,
		logger:  logger,
	}
}

// SenderFor returns the sender for deviceID, creating it on first use.
// Every call with the same identity returns the same instance.
func (r *Registry) SenderFor(deviceID string) (*ChunkSender, error) {
	if deviceID == "" {
		return nil, domain.ErrInvalidDevice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.senders[deviceID]; ok {
		return s, nil
	}

	s, err := r.factory(deviceID)
	if err != nil {
		return nil, err
	}
	r.senders[deviceID] = s
	r.logger.Debug("sender created", ports.String("device", deviceID))
	return s, nil
}

// Lookup returns the sender for deviceID if one has been created.
func (r *Registry) Lookup(deviceID string) (*ChunkSender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.senders[deviceID]
	return s, ok
}

// PostAll requests delivery on every registered sender.
func (r *Registry) PostAll() {
	for _, s := range r.snapshot() {
		s.Post()
	}
}

// StopAll stops every registered sender.
func (r *Registry) StopAll() {
	for _, s := range r.snapshot() {
		s.Stop()
	}
}

// Devices returns the registered device identities in sorted order.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.senders))
	for id := range r.senders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until no registered sender has a running delivery goroutine,
// or until ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	for _, s := range r.snapshot() {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// snapshot copies the senders so broadcasts run without holding the map lock.
func (r *Registry) snapshot() []*ChunkSender {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ChunkSender, 0, len(r.senders))
	for _, s := range r.senders {
		out = append(out, s)
	}
	return out
}
