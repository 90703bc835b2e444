package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/synthea-ws/genclient/internal/protocol"
)

// WebSocket dials raw JSON-over-WebSocket connections.
type WebSocket struct {
	opts Options
}

// NewWebSocket creates a dialer for the raw frame protocol.
func NewWebSocket(opts Options) *WebSocket {
	return &WebSocket{opts: opts.withDefaults()}
}

// Dial connects and starts the keepalive ping loop.
func (d *WebSocket) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, d.opts.header())
	if err != nil {
		return nil, dialError(err, endpoint, resp)
	}

	pingCtx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		conn:   conn,
		opts:   d.opts,
		cancel: cancel,
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.opts.PongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(d.opts.PongTimeout))

	go c.pingLoop(pingCtx)
	return c, nil
}

type wsConn struct {
	conn *websocket.Conn
	opts Options

	writeMu   sync.Mutex // serialises all conn writes (commands, ping, close)
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    bool
}

func (c *wsConn) Supports(op protocol.Operation) bool {
	return op != protocol.OpPause
}

func (c *wsConn) Send(cmd protocol.Command) error {
	if !c.Supports(cmd.Operation) {
		return errors.Wrap(ErrUnsupported, string(cmd.Operation))
	}
	data, err := cmd.Encode()
	if err != nil {
		return errors.Wrap(err, "encode command")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrapf(err, "send %s", cmd.Operation)
	}
	return nil
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.writeMu.Lock()
		closed := c.closed
		c.writeMu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, errors.Wrap(err, "read")
	}
	return data, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.writeMu.Lock()
		c.closed = true
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// pingLoop sends periodic pings until the context is cancelled or a write
// fails.
func (c *wsConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if c.closed {
				c.writeMu.Unlock()
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.opts.Logger.Debug().Err(err).Msg("ws ping failed")
				return
			}
		}
	}
}
