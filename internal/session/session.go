// Package session tracks one client's interaction with the generation
// service: the connection, the request identifier the service assigned and
// the number of entities received for it.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/synthea-ws/genclient/internal/protocol"
	"github.com/synthea-ws/genclient/internal/transport"
)

// Session drives a single connection. Commands may be called from any
// goroutine; handlers run on the reader goroutine (or the caller's, for
// locally detected failures) and never while the session lock is held.
type Session struct {
	dialer transport.Dialer
	log    zerolog.Logger

	mu         sync.Mutex
	conn       transport.Conn
	state      State
	gen        uint64 // bumped on every connect and disconnect
	attempt    uint64 // gen of the latest Connect
	identifier string
	count      int
	onEntity   EntityHandler
	onMessage  MessageHandler
}

// New creates a session in the Disconnected state.
func New(dialer transport.Dialer, log zerolog.Logger) *Session {
	s := &Session{dialer: dialer, log: log}
	s.onEntity = s.logEntity
	s.onMessage = s.logEvent
	return s
}

// Connect dials endpoint and starts reading frames. It is allowed from
// Disconnected or Closed; reconnecting clears the identifier and count.
func (s *Session) Connect(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	if s.state == Connecting || s.state == Connected {
		s.mu.Unlock()
		return s.reject("connect", ErrAlreadyConnected)
	}
	s.state = Connecting
	s.identifier = ""
	s.count = 0
	s.gen++
	gen := s.gen
	s.attempt = gen
	s.mu.Unlock()

	s.log.Info().Str("endpoint", endpoint).Msg("connecting")
	conn, err := s.dialer.Dial(ctx, endpoint)

	s.mu.Lock()
	if err == nil && (gen != s.gen || s.state != Connecting) {
		err = errClosedWhileConnecting
		_ = conn.Close()
	}
	if err != nil {
		if gen == s.gen {
			s.state = Closed
			s.gen++
		}
		latest := gen == s.attempt
		handler := s.onMessage
		s.mu.Unlock()

		e := &Error{Kind: TransportError, Op: "connect", Err: err}
		s.log.Warn().Err(err).Str("endpoint", endpoint).Msg("connect failed")
		// Stay quiet when a newer Connect superseded this dial.
		if latest {
			handler(Event{Kind: EventDisconnected, Message: msgCouldNotConnect, Err: e})
		}
		return e
	}
	s.conn = conn
	s.state = Connected
	handler := s.onMessage
	s.mu.Unlock()

	s.log.Info().Str("endpoint", endpoint).Msg("connected")
	handler(Event{Kind: EventConnected, Message: msgConnected})
	go s.readLoop(conn, gen)
	return nil
}

// Close ends the connection. The message handler sees one
// EventDisconnected; closing an idle session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	wasConnected := s.state == Connected
	if s.state == Connecting {
		// Connect notices the bumped generation and reports the failure.
		s.state = Closed
		s.gen++
	}
	if conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.conn = nil
	s.state = Closed
	s.gen++
	handler := s.onMessage
	s.mu.Unlock()

	err := conn.Close()
	handler(Event{Kind: EventDisconnected, Message: msgConnectionClose, WasConnected: wasConnected})
	return err
}

// Configure asks the service to create a request. A nil configuration sends
// the default population.
func (s *Session) Configure(cfg protocol.Configuration) error {
	return s.send(protocol.Configure(cfg))
}

// Start begins generation for the current request.
func (s *Session) Start() error {
	return s.send(protocol.Start(""))
}

// Stop halts generation for the current request.
func (s *Session) Stop() error {
	return s.send(protocol.Stop(""))
}

// Pause suspends generation. Only transports that support it accept it.
func (s *Session) Pause() error {
	return s.send(protocol.Pause(""))
}

// UpdateRequest replaces the configuration of the current request.
func (s *Session) UpdateRequest(cfg protocol.Configuration) error {
	if cfg == nil {
		return s.reject(string(protocol.OpUpdateRequest), ErrNilConfiguration)
	}
	return s.send(protocol.UpdateRequest("", cfg))
}

// HandleFrame processes one inbound text frame as if the reader had
// received it on the current connection.
func (s *Session) HandleFrame(raw []byte) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.handleFrame(gen, raw)
}

// SetEntityHandler replaces the entity handler. nil restores the default,
// which only logs.
func (s *Session) SetEntityHandler(h EntityHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		h = s.logEntity
	}
	s.onEntity = h
}

// SetMessageHandler replaces the message handler. nil restores the default,
// which only logs.
func (s *Session) SetMessageHandler(h MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		h = s.logEvent
	}
	s.onMessage = h
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identifier returns the request identifier, if the service assigned one.
func (s *Session) Identifier() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identifier, s.identifier != ""
}

// Count returns the number of entities received since the last identifier
// or completion.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Session) send(cmd protocol.Command) error {
	op := string(cmd.Operation)

	s.mu.Lock()
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return s.reject(op, ErrNotConnected)
	}
	if cmd.NeedsIdentifier() {
		if s.identifier == "" {
			s.mu.Unlock()
			return s.reject(op, ErrNoIdentifier)
		}
		cmd.Identifier = s.identifier
	}
	if !s.conn.Supports(cmd.Operation) {
		s.mu.Unlock()
		return s.reject(op, ErrUnsupported)
	}
	conn, gen := s.conn, s.gen
	s.mu.Unlock()

	if err := conn.Send(cmd); err != nil {
		e := &Error{Kind: TransportError, Op: op, Err: err}
		s.drop(gen, e)
		return e
	}
	s.log.Debug().Str("command", cmd.String()).Msg("sent")
	return nil
}

// reject reports a command refused before anything was sent.
func (s *Session) reject(op string, cause error) error {
	e := &Error{Kind: PreconditionViolation, Op: op, Err: cause}
	s.log.Warn().Str("op", op).Err(cause).Msg("command rejected")
	s.localError(e)
	return e
}

func (s *Session) localError(e *Error) {
	s.mu.Lock()
	handler := s.onMessage
	s.mu.Unlock()
	handler(Event{Kind: EventLocalError, Message: e.Error(), Err: e})
}

func (s *Session) readLoop(conn transport.Conn, gen uint64) {
	for {
		raw, err := conn.Read()
		if err != nil {
			var cause error
			if !errors.Is(err, transport.ErrClosed) {
				cause = &Error{Kind: TransportError, Op: "read", Err: err}
			}
			s.drop(gen, cause)
			return
		}
		s.handleFrame(gen, raw)
	}
}

// drop closes the connection of generation gen after a transport failure.
// It does nothing if that connection is already gone.
func (s *Session) drop(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.state = Closed
	s.gen++
	handler := s.onMessage
	s.mu.Unlock()

	_ = conn.Close()
	if cause != nil {
		s.log.Warn().Err(cause).Msg("connection lost")
	} else {
		s.log.Info().Msg("connection closed by peer")
	}
	handler(Event{Kind: EventDisconnected, Message: msgConnectionClose, WasConnected: true, Err: cause})
}

func (s *Session) handleFrame(gen uint64, raw []byte) {
	in, err := protocol.Classify(raw)
	if err != nil {
		e := &Error{Kind: MalformedFrame, Op: "frame", Err: err}
		s.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping frame")
		s.localError(e)
		return
	}

	var (
		events  []Event
		binder  transport.Binder
		entity  EntityHandler
		payload json.RawMessage
	)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if in.HasIdentifier() {
		s.identifier = in.Identifier
		s.count = 0
		if b, ok := s.conn.(transport.Binder); ok {
			binder = b
		}
		events = append(events, Event{
			Kind:          EventIdentifier,
			Message:       in.Identifier,
			Identifier:    in.Identifier,
			Configuration: in.Configuration,
		})
	}
	switch in.Kind {
	case protocol.KindError:
		events = append(events, Event{
			Kind:    EventError,
			Message: in.Error,
			Err:     &Error{Kind: ProtocolError, Op: "frame", Err: errors.New(in.Error)},
		})
	case protocol.KindStatus:
		if in.Terminal() {
			s.count = 0
		}
		events = append(events, Event{
			Kind:          EventStatus,
			Message:       in.Status,
			Terminal:      in.Terminal(),
			Configuration: in.Configuration,
		})
	case protocol.KindEntity:
		s.count++
		entity = s.onEntity
		payload = in.Payload
	}
	handler := s.onMessage
	s.mu.Unlock()

	if binder != nil {
		if err := binder.Bind(in.Identifier); err != nil {
			s.log.Warn().Err(err).Str("uuid", in.Identifier).Msg("bind failed")
			s.localError(&Error{Kind: TransportError, Op: "bind", Err: err})
		}
	}
	for _, ev := range events {
		handler(ev)
	}
	if entity != nil {
		entity(payload)
	}
}

func (s *Session) logEntity(payload json.RawMessage) {
	s.log.Debug().Int("bytes", len(payload)).Msg("entity received")
}

func (s *Session) logEvent(ev Event) {
	e := s.log.Info()
	if ev.Err != nil {
		e = s.log.Warn().Err(ev.Err)
	}
	e.Str("event", ev.Kind.String()).Msg(ev.Message)
}
