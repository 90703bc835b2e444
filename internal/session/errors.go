package session

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/synthea-ws/genclient/internal/transport"
)

// ErrorKind classifies session failures. None of them is fatal; a fresh
// Connect always recovers.
type ErrorKind int

const (
	// TransportError is a dial or send failure. The session moves to Closed.
	TransportError ErrorKind = iota + 1
	// MalformedFrame is inbound text that could not be parsed. The frame is
	// dropped and the session is unaffected.
	MalformedFrame
	// ProtocolError is an error reported by the service in an error field.
	ProtocolError
	// PreconditionViolation is a command rejected locally; nothing was sent.
	PreconditionViolation
)

func (k ErrorKind) String() string {
	switch k {
	case TransportError:
		return "transport error"
	case MalformedFrame:
		return "malformed frame"
	case ProtocolError:
		return "protocol error"
	case PreconditionViolation:
		return "precondition violation"
	default:
		return "unknown error"
	}
}

// Precondition causes.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNoIdentifier     = errors.New("no identifier assigned")
	ErrNilConfiguration = errors.New("configuration is required")
	ErrUnsupported      = transport.ErrUnsupported

	errClosedWhileConnecting = errors.New("closed while connecting")
)

// Error is returned by session operations and carried on events.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a session Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
