package ports

import (
	"context"

	"github.com/bft-labs/chunkship/internal/domain"
)

// StatusRepository handles persistence of delivery status.
// Implementations persist status to disk (or other storage) atomically.
type StatusRepository interface {
	// Load retrieves the last saved status.
	// Returns an empty status and nil error if no status exists.
	// Returns an error only for actual read failures.
	Load(ctx context.Context) (domain.Status, error)

	// Save persists the current status atomically.
	Save(ctx context.Context, status domain.Status) error
}
