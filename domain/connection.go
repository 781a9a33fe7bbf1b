package domain

import "time"

// State is the connection lifecycle state owned by the connection manager.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
	// StateFailed is absorbing: reached only after the fallback
	// transport also failed. No automatic retry leaves it.
	StateFailed State = "failed"
)

// TransportKind distinguishes the primary upgradeable transport from the
// request/response fallback.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportPolling   TransportKind = "polling"
)

// StateChange is delivered to broker subscribers on every transition.
type StateChange struct {
	State     State
	Transport TransportKind
	Err       error
	At        time.Time
}
