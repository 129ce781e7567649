package ports

import (
	"context"

	"github.com/bft-labs/chunkship/internal/domain"
)

// Transport delivers chunks to the ingestion service.
// Implementations handle framing, HTTP communication, and authentication.
type Transport interface {
	// Post delivers chunks, in order, for the given device.
	// Returns nil when the whole batch was accepted, an error otherwise.
	// A batch is all-or-nothing: there is no partial acceptance.
	//
	// Post must not be called again for the same device before the previous
	// call has returned; implementations may report such a call with
	// domain.ErrAlreadyInFlight.
	Post(ctx context.Context, deviceID string, chunks []domain.Chunk) error
}
