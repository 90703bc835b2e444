package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/synthea-ws/genclient/internal/protocol"
)

// STOMP destinations used by the generation service.
const (
	appPrefix    = "/app/"
	replyPrefix  = "/user/reply/"
	entityPrefix = "/json/"
)

var errStompClosed = errors.New("stomp connection closed")

var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// replyOperations have a per-user reply queue.
var replyOperations = []protocol.Operation{
	protocol.OpConfigure,
	protocol.OpStart,
	protocol.OpPause,
	protocol.OpStop,
}

// STOMP dials STOMP-over-WebSocket connections.
type STOMP struct {
	opts Options
}

// NewSTOMP creates a dialer for the STOMP variant.
func NewSTOMP(opts Options) *STOMP {
	return &STOMP{opts: opts.withDefaults()}
}

// Dial opens the socket, performs the STOMP handshake and subscribes to the
// reply queues.
func (d *STOMP) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.opts.HandshakeTimeout,
		Subprotocols:     stompSubprotocols,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, d.opts.header())
	if err != nil {
		return nil, dialError(err, endpoint, resp)
	}

	host := ""
	if u, err := url.Parse(endpoint); err == nil {
		host = u.Hostname()
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	sc, err := stomp.Connect(newStream(ws, d.opts.WriteTimeout),
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(d.opts.HeartBeat, d.opts.HeartBeat),
	)
	if err != nil {
		_ = ws.Close()
		return nil, errors.Wrap(err, "stomp connect")
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &stompConn{
		sc:     sc,
		opts:   d.opts,
		frames: make(chan []byte, 64),
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, op := range replyOperations {
		sub, err := sc.Subscribe(replyPrefix+string(op), stomp.AckAuto)
		if err != nil {
			_ = c.Close()
			return nil, errors.Wrapf(err, "subscribe %s", op)
		}
		go c.forward(sub, true)
	}
	return c, nil
}

type stompConn struct {
	sc   *stomp.Conn
	opts Options

	mu        sync.Mutex
	entitySub *stomp.Subscription
	boundID   string

	frames chan []byte

	failOnce sync.Once
	failErr  error
	failed   chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func (c *stompConn) Supports(op protocol.Operation) bool {
	return op != protocol.OpUpdateRequest
}

// Send maps a command onto its application destination. Configure carries
// the configuration object; every other operation carries the bare
// identifier.
func (c *stompConn) Send(cmd protocol.Command) error {
	if !c.Supports(cmd.Operation) {
		return errors.Wrap(ErrUnsupported, string(cmd.Operation))
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	dest := appPrefix + string(cmd.Operation)
	var err error
	if cmd.Operation == protocol.OpConfigure {
		body, encErr := encodeConfiguration(cmd.Configuration)
		if encErr != nil {
			return errors.Wrap(encErr, "encode configuration")
		}
		err = c.sc.Send(dest, "application/json", body)
	} else {
		err = c.sc.Send(dest, "text/plain", []byte(cmd.Identifier))
	}
	if err != nil {
		return errors.Wrapf(err, "send %s", dest)
	}
	return nil
}

// Bind subscribes to the entity channel of id, dropping any previous one.
func (c *stompConn) Bind(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == c.boundID {
		return nil
	}
	if old := c.entitySub; old != nil {
		// Unsubscribe waits for the broker's receipt; don't hold up the reader.
		go func() { _ = old.Unsubscribe() }()
		c.entitySub = nil
	}
	sub, err := c.sc.Subscribe(entityPrefix+id, stomp.AckAuto)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s%s", entityPrefix, id)
	}
	c.entitySub = sub
	c.boundID = id
	go c.forward(sub, false)
	return nil
}

func (c *stompConn) Read() ([]byte, error) {
	select {
	case b := <-c.frames:
		return b, nil
	case <-c.failed:
		return nil, c.failErr
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *stompConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sc.MustDisconnect()
	})
	return err
}

// forward pumps message bodies from one subscription into frames. A reply
// queue only ends when the connection does.
func (c *stompConn) forward(sub *stomp.Subscription, reply bool) {
	defer func() {
		if reply {
			c.fail(errStompClosed)
		}
	}()
	for msg := range sub.C {
		if msg.Err != nil {
			c.fail(errors.Wrap(msg.Err, "stomp"))
			return
		}
		select {
		case c.frames <- msg.Body:
		case <-c.done:
			return
		}
	}
}

func (c *stompConn) fail(err error) {
	c.failOnce.Do(func() {
		c.opts.Logger.Debug().Err(err).Msg("stomp connection failed")
		c.failErr = err
		close(c.failed)
	})
}

func encodeConfiguration(cfg protocol.Configuration) ([]byte, error) {
	if cfg == nil {
		cfg = protocol.Configuration{}
	}
	return json.Marshal(cfg)
}
