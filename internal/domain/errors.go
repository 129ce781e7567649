package domain

import "errors"

// Domain errors represent error conditions in the chunkship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrQueueFull is returned when a queue rejects an Add because its
	// capacity is exhausted. Nothing from the rejected call is stored.
	ErrQueueFull = errors.New("chunkship: queue full")

	// ErrTransport wraps every failed delivery attempt reported by a Transport.
	ErrTransport = errors.New("chunkship: transport failure")

	// ErrUnauthorized is returned by the HTTP transport when the ingestion
	// endpoint rejects the project key. It also matches ErrTransport.
	ErrUnauthorized = errors.New("chunkship: unauthorized")

	// ErrCircuitOpen is returned by a Transport that refused a post without
	// contacting the service because its circuit breaker is open. It also
	// matches ErrTransport.
	ErrCircuitOpen = errors.New("chunkship: circuit open")

	// ErrAlreadyInFlight is returned by a Transport when a post for a device
	// is attempted while a previous one has not resolved.
	ErrAlreadyInFlight = errors.New("chunkship: post already in flight")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("chunkship: invalid configuration")

	// ErrInvalidDevice is returned for an empty device identity.
	ErrInvalidDevice = errors.New("chunkship: invalid device id")

	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("chunkship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("chunkship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("chunkship: shutdown timeout")
)
