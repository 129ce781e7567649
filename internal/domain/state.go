package domain

// SenderState is the state of a per-device chunk sender.
type SenderState int

const (
	// SenderIdle means no delivery cycle is running.
	SenderIdle SenderState = iota
	// SenderPosting means a batch is being peeked or is in flight.
	SenderPosting
	// SenderWaitingBackoff means the last attempt failed and a retry is scheduled.
	SenderWaitingBackoff
	// SenderStopped means no new transport calls are started until the next post.
	SenderStopped
)

// String returns a human-readable representation of the state.
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "Idle"
	case SenderPosting:
		return "Posting"
	case SenderWaitingBackoff:
		return "WaitingBackoff"
	case SenderStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
