// Package relay serves air quality reports over WebSocket connections.
package relay

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a client connection.
type State int

const (
	// StateOpen is the state of a connection that has been accepted but not
	// yet announced.
	StateOpen State = iota

	// StateAwaitingMessage means no query is in flight.
	StateAwaitingMessage

	// StateProcessing means at least one query is being resolved.
	StateProcessing

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAwaitingMessage:
		return "awaiting_message"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event drives lifecycle transitions.
type Event int

const (
	// EventConnected fires once the connection is established.
	EventConnected Event = iota

	// EventMessage fires when a query is received.
	EventMessage

	// EventReplied fires when the reply for a query has been handed to the transport.
	EventReplied

	// EventClosed fires when either peer closes the connection.
	EventClosed
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventReplied:
		return "replied"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Lifecycle errors.
var (
	// ErrInvalidTransition is returned for an event that is not valid in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConnectionClosed is returned for any event after the connection closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// Lifecycle is the state of one connection together with the number of
// queries received but not yet replied to. Every query moves InFlight up by
// one and its reply moves it back down, so a connection returns to
// StateAwaitingMessage exactly when every query has had one reply.
type Lifecycle struct {
	State    State
	InFlight int
}

// Next returns the lifecycle after applying e. It does not modify l.
func (l Lifecycle) Next(e Event) (Lifecycle, error) {
	if l.State == StateClosed {
		return l, ErrConnectionClosed
	}

	switch e {
	case EventConnected:
		if l.State != StateOpen {
			return l, invalid(l.State, e)
		}
		return Lifecycle{State: StateAwaitingMessage}, nil

	case EventMessage:
		if l.State != StateAwaitingMessage && l.State != StateProcessing {
			return l, invalid(l.State, e)
		}
		return Lifecycle{State: StateProcessing, InFlight: l.InFlight + 1}, nil

	case EventReplied:
		if l.State != StateProcessing || l.InFlight == 0 {
			return l, invalid(l.State, e)
		}
		next := Lifecycle{State: StateProcessing, InFlight: l.InFlight - 1}
		if next.InFlight == 0 {
			next.State = StateAwaitingMessage
		}
		return next, nil

	case EventClosed:
		return Lifecycle{State: StateClosed, InFlight: l.InFlight}, nil

	default:
		return l, invalid(l.State, e)
	}
}

func invalid(s State, e Event) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
