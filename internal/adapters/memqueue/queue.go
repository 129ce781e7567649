// Package memqueue provides a bounded in-memory ChunkQueue.
// Chunks held in memory are lost when the process exits.
package memqueue

import (
	"sync"

	"github.com/bft-labs/chunkship/internal/domain"
	"github.com/bft-labs/chunkship/internal/ports"
)

// Limits bounds a queue. Zero fields are unbounded.
type Limits struct {
	MaxChunks int
	MaxBytes  int
}

// Queue is a FIFO of chunks guarded by a mutex.
type Queue struct {
	mu     sync.Mutex
	chunks []domain.Chunk
	bytes  int
	limits Limits
}

// New creates an empty queue.
func New(limits Limits) *Queue {
	return &Queue{limits: limits}
}

// Count returns the number of queued chunks.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Bytes returns the summed size of the queued chunks.
func (q *Queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Add appends copies of chunks. If the limits would be exceeded nothing is
// added and domain.ErrQueueFull is returned.
func (q *Queue) Add(chunks []domain.Chunk) error {
	size := domain.TotalBytes(chunks)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limits.MaxChunks > 0 && len(q.chunks)+len(chunks) > q.limits.MaxChunks {
		return domain.ErrQueueFull
	}
	if q.limits.MaxBytes > 0 && q.bytes+size > q.limits.MaxBytes {
		return domain.ErrQueueFull
	}
	q.chunks = append(q.chunks, domain.CloneChunks(chunks)...)
	q.bytes += size
	return nil
}

// Peek returns up to n chunks from the head without removing them.
func (q *Queue) Peek(n int) ([]domain.Chunk, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.chunks) {
		n = len(q.chunks)
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]domain.Chunk, n)
	copy(out, q.chunks[:n])
	return out, nil
}

// Drop removes up to n chunks from the head.
func (q *Queue) Drop(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.chunks) {
		n = len(q.chunks)
	}
	if n <= 0 {
		return nil
	}
	q.bytes -= domain.TotalBytes(q.chunks[:n])
	for i := 0; i < n; i++ {
		q.chunks[i] = nil
	}
	q.chunks = q.chunks[n:]
	if len(q.chunks) == 0 {
		q.chunks = nil
	}
	return nil
}

// Provider hands out one Queue per device, all sharing the same limits.
type Provider struct {
	mu     sync.Mutex
	limits Limits
	queues map[string]*Queue
}

// NewProvider creates a provider whose queues are bounded by limits.
func NewProvider(limits Limits) *Provider {
	return &Provider{
		limits: limits,
		queues: make(map[string]*Queue),
	}
}

// QueueFor returns the queue of deviceID, creating it on first use.
func (p *Provider) QueueFor(deviceID string) (ports.ChunkQueue, error) {
	if deviceID == "" {
		return nil, domain.ErrInvalidDevice
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.queues[deviceID]
	if !ok {
		q = New(p.limits)
		p.queues[deviceID] = q
	}
	return q, nil
}
