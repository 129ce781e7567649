package ports

import "github.com/bft-labs/chunkship/internal/domain"

// ChunkQueue holds the pending chunks of one device in FIFO order.
//
// Implementations must make Add safe to call concurrently with Peek and Drop.
// The queue does not support reordering or partial acknowledgement: a sender
// peeks a batch, delivers it, and drops exactly that many chunks.
type ChunkQueue interface {
	// Count returns the number of pending chunks.
	Count() int

	// Add appends chunks at the tail. It returns domain.ErrQueueFull when the
	// capacity is exhausted; in that case nothing is added.
	Add(chunks []domain.Chunk) error

	// Peek returns up to n chunks from the head without removing them.
	// Repeated calls with no intervening Drop return the same chunks.
	Peek(n int) ([]domain.Chunk, error)

	// Drop removes up to n chunks from the head. Dropping past the end is a no-op.
	Drop(n int) error
}

// ChunkQueueProvider creates the queue for a device identity.
// It is invoked once per identity, on first use.
type ChunkQueueProvider interface {
	QueueFor(deviceID string) (ChunkQueue, error)
}
