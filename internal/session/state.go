package session

import "encoding/json"

// State is the connection state of a session.
type State int

const (
	// Disconnected means no connection has been attempted yet.
	Disconnected State = iota
	// Connecting means a dial is in flight.
	Connecting
	// Connected means the transport is open and commands may be sent.
	Connected
	// Closed means the connection ended or never opened. Only Connect leaves it.
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventIdentifier
	EventStatus
	EventError
	// EventLocalError reports a failure detected on this side: a malformed
	// frame, a rejected command or a failed bind.
	EventLocalError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventIdentifier:
		return "identifier"
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventLocalError:
		return "local-error"
	default:
		return "unknown"
	}
}

// Event is delivered to the message handler.
type Event struct {
	Kind EventKind
	// Message is the text to show: status or error text from the service,
	// or a description of the connection change.
	Message string
	// Identifier is set on EventIdentifier.
	Identifier string
	// Terminal is set on the status that ends a request.
	Terminal bool
	// Configuration echoes the request configuration when the service sent one.
	Configuration json.RawMessage
	// WasConnected distinguishes "connection closed" from "could not connect"
	// on EventDisconnected.
	WasConnected bool
	Err          error
}

// MessageHandler receives connection, status and error events.
type MessageHandler func(Event)

// EntityHandler receives the raw payload of every entity frame.
type EntityHandler func(payload json.RawMessage)

const (
	msgConnected       = "Connected"
	msgConnectionClose = "Connection closed"
	msgCouldNotConnect = "Could not connect"
)
