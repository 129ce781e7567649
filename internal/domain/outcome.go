package domain

import "time"

// Outcome describes the completion of one delivery attempt for a batch.
type Outcome struct {
	// DeviceID identifies the device the batch belongs to
	DeviceID string

	// ChunkCount is the number of chunks in the batch
	ChunkCount int

	// Bytes is the summed size of the chunks in the batch
	Bytes int

	// Attempt is 1 for the first try of a batch and grows with each retry
	Attempt int

	// Duration is how long the transport call took
	Duration time.Duration

	// Err is the transport error, nil on success
	Err error

	// RetryIn is the delay before the batch is retried; zero when the batch
	// was delivered or dropped
	RetryIn time.Duration

	// Dropped is true when the batch was discarded after exhausting retries
	Dropped bool
}

// Delivered reports whether the batch was accepted by the transport.
func (o Outcome) Delivered() bool {
	return o.Err == nil
}
