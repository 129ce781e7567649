package chunkship

import (
	"github.com/bft-labs/chunkship/internal/domain"
)

// Errors returned by Chunkship and reported in DeliveryEvent.Error.
// Check them with errors.Is.
var (
	ErrQueueFull       = domain.ErrQueueFull
	ErrTransport       = domain.ErrTransport
	ErrUnauthorized    = domain.ErrUnauthorized
	ErrCircuitOpen     = domain.ErrCircuitOpen
	ErrAlreadyInFlight = domain.ErrAlreadyInFlight
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrInvalidDevice   = domain.ErrInvalidDevice
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
)
