// Package transport opens connections to the generation service. A Conn
// carries protocol commands out and raw JSON frame text in; the session owns
// it exclusively.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/synthea-ws/genclient/internal/protocol"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPongTimeout      = 60 * time.Second
	defaultPingInterval     = 30 * time.Second
)

// ErrClosed is returned by Read and Send once the connection is closed.
var ErrClosed = errors.New("transport closed")

// ErrUnsupported is returned by Send for operations the transport cannot
// express.
var ErrUnsupported = errors.New("operation not supported by transport")

// Conn is one open connection.
type Conn interface {
	// Send writes a command.
	Send(cmd protocol.Command) error
	// Read blocks until the next inbound frame or a terminal error.
	Read() ([]byte, error)
	// Close releases the connection. Safe to call more than once.
	Close() error
	// Supports reports whether Send can express op.
	Supports(op protocol.Operation) bool
}

// Binder is implemented by connections that deliver entity frames on a
// per-request channel which must be selected once the identifier is known.
type Binder interface {
	Bind(id string) error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Kind names a transport implementation.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindSTOMP     Kind = "stomp"
)

// Options tunes both transports. Zero durations take defaults.
type Options struct {
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
	// HeartBeat is the STOMP heart-beat interval offered in both directions.
	// Zero disables heart-beating.
	HeartBeat time.Duration
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout / 2
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

func (o Options) header() http.Header {
	h := http.Header{}
	if o.Token != "" {
		h.Set("Authorization", "Bearer "+o.Token)
	}
	return h
}

// New returns the dialer for kind.
func New(kind Kind, opts Options) (Dialer, error) {
	switch kind {
	case KindWebSocket, "":
		return NewWebSocket(opts), nil
	case KindSTOMP:
		return NewSTOMP(opts), nil
	}
	return nil, errors.Errorf("unknown transport %q", kind)
}

func dialError(err error, endpoint string, resp *http.Response) error {
	if resp != nil {
		return errors.Wrapf(err, "dial %s: %s", endpoint, resp.Status)
	}
	return errors.Wrapf(err, "dial %s", endpoint)
}
