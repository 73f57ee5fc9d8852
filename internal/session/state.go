package session

import "fmt"

// State is the lifecycle state of a session. The lifecycle is a closed
// enum with explicit transitions rather than scattered boolean flags, so
// illegal states (ingesting after close) are structurally unrepresentable.
//
//	CONNECTING → STREAMING → FINALIZING → CLOSED
//
// Any state may be forced to CLOSED on transport error, buffer overflow,
// or idle timeout.
type State int

const (
	// StateConnecting - admitted, transport handshake in progress.
	StateConnecting State = iota
	// StateStreaming - normal ingestion; inbound chunks feed the frame buffer.
	StateStreaming
	// StateFinalizing - ingestion stopped; in-flight inference drains.
	StateFinalizing
	// StateClosed - terminal; all owned resources released.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// canIngest reports whether inbound audio is accepted in this state.
// A chunk arriving in CONNECTING doubles as the start signal.
func (s State) canIngest() bool {
	return s == StateConnecting || s == StateStreaming
}

// IsTerminal reports whether the state is CLOSED.
func (s State) IsTerminal() bool {
	return s == StateClosed
}
