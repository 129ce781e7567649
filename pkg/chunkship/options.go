package chunkship

import (
	"github.com/bft-labs/chunkship/internal/ports"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// Logger is the interface for structured logging.
type Logger = ports.Logger

// LogField represents a structured log field.
type LogField = ports.Field

// Transport delivers a batch of chunks for one device.
// Implementations must accept the whole batch or none of it.
type Transport = ports.Transport

// Queue holds the pending chunks of one device in FIFO order.
type Queue = ports.ChunkQueue

// QueueProvider creates the queue of a device on first use.
type QueueProvider = ports.ChunkQueueProvider

// Option configures optional behavior of Chunkship.
type Option func(*options)

type options struct {
	httpClient    ports.HTTPClient
	logger        ports.Logger
	transport     ports.Transport
	queueProvider ports.ChunkQueueProvider
	eventHandler  EventHandler
}

// WithHTTPClient sets the HTTP client of the default transport.
// If not provided, a client with Config.HTTPTimeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTransport replaces the HTTP transport. ProjectKey, ChunksURL, Gzip and
// the breaker settings are then ignored.
func WithTransport(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithQueueProvider replaces the queue backend selected by Config.QueueDriver.
// Chunkship does not close a provider it did not create.
func WithQueueProvider(p QueueProvider) Option {
	return func(o *options) {
		o.queueProvider = p
	}
}

// WithEventHandler sets a handler for chunkship events.
// Delivery events are called synchronously from the device's delivery
// goroutine. If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}
