package call

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase of a live call.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateError
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// active reports whether a call is in progress in state s.
func (s State) active() bool {
	return s == StateConnecting || s == StateOpen || s == StateClosing
}

// ErrAlreadyActive is returned by [Manager.Connect] while another call is in
// progress.
var ErrAlreadyActive = errors.New("call: a call is already active")

// ErrDisconnected is returned by [Manager.Connect] when [Manager.Disconnect]
// ran before the session opened.
var ErrDisconnected = errors.New("call: disconnected while connecting")

// ConfigurationError reports that the call cannot start because of missing or
// invalid configuration, such as an absent API key. No transport call is made.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "call: configuration: " + e.Reason
}

// TransportError reports a failure of the live session, either while
// connecting or after it opened.
type TransportError struct {
	// Op is "connect" or "session".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("call: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
