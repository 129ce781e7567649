package ports

import "github.com/bft-labs/chunkship/internal/domain"

// EventEmitter is called with the outcome of every delivery attempt.
// It is called from the sender's delivery goroutine and should return quickly.
type EventEmitter interface {
	OnOutcome(outcome domain.Outcome)
}
