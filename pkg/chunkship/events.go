package chunkship

import (
	"time"

	"github.com/bft-labs/chunkship/internal/app"
	"github.com/bft-labs/chunkship/internal/domain"
)

// State is the lifecycle state of a Chunkship instance.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// EventHandler receives notifications about chunkship operations.
// Embed BaseEventHandler to implement only the methods you need.
type EventHandler interface {
	// OnStateChange is called on every lifecycle transition.
	OnStateChange(event StateChangeEvent)

	// OnDelivery is called when a delivery attempt for a batch completes.
	OnDelivery(event DeliveryEvent)
}

// StateChangeEvent describes a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// DeliveryEvent describes the completion of one delivery attempt.
type DeliveryEvent struct {
	DeviceID   string
	ChunkCount int
	Bytes      int

	// Attempt is 1 for the first try of a batch.
	Attempt  int
	Duration time.Duration

	// Error is nil when the batch was accepted.
	Error error

	// RetryIn is the delay before the batch is retried.
	RetryIn time.Duration

	// Dropped is true when the batch was discarded after too many failures.
	Dropped bool
}

// BaseEventHandler implements EventHandler with no-ops.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnDelivery(DeliveryEvent)       {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interfaces.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnOutcome(o domain.Outcome) {
	if e.handler == nil {
		return
	}
	e.handler.OnDelivery(DeliveryEvent{
		DeviceID:   o.DeviceID,
		ChunkCount: o.ChunkCount,
		Bytes:      o.Bytes,
		Attempt:    o.Attempt,
		Duration:   o.Duration,
		Error:      o.Err,
		RetryIn:    o.RetryIn,
		Dropped:    o.Dropped,
	})
}

func convertState(s app.State) State {
	switch s {
	case app.StateStopped:
		return StateStopped
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}
