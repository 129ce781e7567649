package domain

import "time"

// DeviceStatus holds the delivery counters of one device.
type DeviceStatus struct {
	// Delivered is the number of chunks accepted by the transport
	Delivered uint64 `json:"delivered"`

	// Dropped is the number of chunks discarded after exhausting retries
	Dropped uint64 `json:"dropped"`

	// Failures is the number of failed attempts since the last success
	Failures int `json:"failures"`

	// LastSuccessAt is the time of the last delivered batch, nil if none
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	// LastFailureAt is the time of the last failed attempt, nil if none
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`

	// LastError is the message of the last failed attempt
	LastError string `json:"last_error,omitempty"`
}

// Status is the persisted delivery status of every known device.
type Status struct {
	Devices   map[string]DeviceStatus `json:"devices"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// IsEmpty returns true if no device has been recorded.
func (s Status) IsEmpty() bool {
	return len(s.Devices) == 0
}

// Apply folds a delivery outcome into the status.
func (s *Status) Apply(o Outcome, now time.Time) {
	if s.Devices == nil {
		s.Devices = make(map[string]DeviceStatus)
	}
	d := s.Devices[o.DeviceID]
	at := now
	switch {
	case o.Err == nil:
		d.Delivered += uint64(o.ChunkCount)
		d.Failures = 0
		d.LastSuccessAt = &at
	default:
		d.LastFailureAt = &at
		d.LastError = o.Err.Error()
		if o.Dropped {
			d.Dropped += uint64(o.ChunkCount)
			d.Failures = 0
		} else {
			d.Failures++
		}
	}
	s.Devices[o.DeviceID] = d
	s.UpdatedAt = now
}
