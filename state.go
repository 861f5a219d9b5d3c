package wschat

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateJoined
	StateDisconnecting
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventType names the notifications published through the event emitter.
type EventType string

const (
	// EventStateChange fires on every transition.
	EventStateChange EventType = "state_change"
	// EventConnect fires when the session becomes Joined.
	EventConnect EventType = "connect"
	// EventClose fires when the session becomes Disconnected.
	EventClose EventType = "close"
	// EventFailure fires when the session becomes Failed.
	EventFailure EventType = "failure"
	// EventReconnect fires right before the supervisor retries a join.
	EventReconnect EventType = "reconnect"
)

// StateChange describes one transition. Err is set for failures.
type StateChange struct {
	From SessionState
	To   SessionState
	Err  error
}

func (c StateChange) eventType() EventType {
	switch c.To {
	case StateJoined:
		return EventConnect
	case StateDisconnected:
		return EventClose
	case StateFailed:
		return EventFailure
	}
	return ""
}
