package transport

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream presents a WebSocket as a byte stream. Each Write becomes one text
// message; reads concatenate message payloads. STOMP frames are NUL
// terminated, so message boundaries carry no meaning for the reader.
type wsStream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	r       io.Reader
	writeMu sync.Mutex
}

func newStream(conn *websocket.Conn, writeTimeout time.Duration) *wsStream {
	return &wsStream{conn: conn, writeTimeout: writeTimeout}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
