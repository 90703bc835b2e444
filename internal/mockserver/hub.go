package mockserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var errTooManyConnections = errors.New("too many connections")

const writeWait = 10 * time.Second

// peer is one socket. Frames for it go through send and are written by
// writePump, so request goroutines never touch the connection.
type peer struct {
	conn *websocket.Conn
	send chan []byte
	hub  *hub

	mu     sync.Mutex
	closed bool
}

func newPeer(conn *websocket.Conn, h *hub) *peer {
	c := &peer{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	go c.writePump()
	return c
}

func (c *peer) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// Deliver queues frame. A client that can't keep up is disconnected.
func (c *peer) Deliver(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	c.hub.log.Warn().Msg("ws client too slow, disconnecting")
	c.hub.remove(c)
	return false
}

func (c *peer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// hub tracks connected clients and enforces the connection limit.
type hub struct {
	log      zerolog.Logger
	maxConns int
	onRemove func(*peer)

	mu      sync.RWMutex
	clients map[*peer]bool
}

func newHub(maxConns int, log zerolog.Logger, onRemove func(*peer)) *hub {
	return &hub{
		log:      log,
		maxConns: maxConns,
		onRemove: onRemove,
		clients:  make(map[*peer]bool),
	}
}

func (h *hub) add(conn *websocket.Conn) (*peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		return nil, errTooManyConnections
	}
	c := newPeer(conn, h)
	h.clients[c] = true
	return c, nil
}

func (h *hub) remove(c *peer) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	if h.onRemove != nil {
		h.onRemove(c)
	}
}

func (h *hub) closeAll() {
	h.mu.RLock()
	clients := make([]*peer, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
