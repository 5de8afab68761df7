package health

import "time"

// State is the coarse health of a session or of the whole process
type State string

// Health states, from best to worst
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status represents the health of one session, or of the process when
// SubStatuses holds the sessions it aggregates.
type Status struct {
	Component   string      `json:"component"`
	Healthy     bool        `json:"healthy"`
	Status      State       `json:"status"`
	Message     string      `json:"message"`
	Timestamp   time.Time   `json:"timestamp"`
	Peer        *PeerHealth `json:"peer,omitempty"`
	SubStatuses []Status    `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// PeerHealth is the liveness snapshot a session reports for its peer
type PeerHealth struct {
	Authenticated bool          `json:"authenticated"`
	Responding    bool          `json:"responding"`
	LastError     string        `json:"last_error,omitempty"`
	ErrorCount    int           `json:"error_count"`
	Uptime        time.Duration `json:"uptime"`
	LastReceived  time.Time     `json:"last_received,omitempty"`
}

// FromPeer converts a session's peer snapshot to a Status.
// An authenticated peer that is not responding is degraded; an
// unauthenticated one is unhealthy. LastError is sanitized.
func FromPeer(name string, ph PeerHealth) Status {
	state := StateUnhealthy
	message := "Not authenticated"
	switch {
	case ph.Authenticated && ph.Responding:
		state = StateHealthy
		message = "Peer responding"
	case ph.Authenticated:
		state = StateDegraded
		message = "Peer not responding"
	}

	ph.LastError = sanitizeErrorMessage(ph.LastError)
	if ph.LastError != "" && state != StateHealthy {
		message = ph.LastError
	}

	return Status{
		Component: name,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
		Peer:      &ph,
	}
}
