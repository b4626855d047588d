package chat

import "fmt"

// Identity is what a session claims during registration. Both fields are
// unique among registered sessions.
type Identity struct {
	Nickname string
	ClientID string
}

// State is a session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateRegistering
	StateActive
	StateClosing
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the session has stopped serving its connection.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFaulted
}

var (
	ErrNicknameTaken = errorString("nickname already in use")
	ErrClientIDTaken = errorString("client id already in use")
	ErrPeerClosed    = errorString("peer closed")
	ErrOutboxFull    = errorString("peer outbox full")

	errAlreadyStarted = errorString("server already started")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// BindError reports a listener that could not be created.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
