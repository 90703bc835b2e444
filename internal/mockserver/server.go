// Package mockserver is an in-process stand-in for the generation service.
// It speaks the raw WebSocket protocol and the REST endpoints and emits fake
// patient bundles.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/synthea-ws/genclient/internal/config"
	"github.com/synthea-ws/genclient/internal/protocol"
)

// Replies sent on the socket.
const (
	replyNotFound       = "Request not found (may be finished)"
	replyFinished       = "Request has finished"
	replyNotStarted     = "Request has not started yet"
	replyUUIDRequired   = "UUID required"
	replyBadConfig      = "Could not process specified configuration"
	replyBadUpdate      = "UUID missing or could not process specified configuration"
	replyConfigured     = "Configured"
	replyReconfigured   = "Configured request"
	replyStarted        = "Started"
	replyAlreadyRuns    = "Already running"
	replyStopped        = "Stopped"
	replyAlreadyStopped = "Already stopped"
)

type Server struct {
	registry       *Registry
	hub            *hub
	log            zerolog.Logger
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	retention      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg config.MockConfig, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry:       NewRegistry(cfg.Interval, log),
		log:            log,
		authToken:      cfg.Token,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		retention:      cfg.Retention,
		ctx:            ctx,
		cancel:         cancel,
	}
	s.hub = newHub(cfg.MaxConnections, log, func(c *peer) { s.registry.Detach(c) })

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	if s.retention > 0 {
		go s.sweepLoop()
	}
	return s
}

// Registry exposes the request registry, mainly for tests.
func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/json/", s.handleJSON)
	mux.HandleFunc("/zip/", s.handleZip)
	mux.HandleFunc("/terminate/", s.handleTerminate)
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// Close stops all requests and disconnects every client.
func (s *Server) Close() {
	s.registry.StopAll()
	s.cancel()
	s.hub.closeAll()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade error")
		return
	}

	c, err := s.hub.add(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejecting ws client")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.log.Info().Str("remote", r.RemoteAddr).Msg("ws client connected")

	go func() {
		defer func() {
			s.hub.remove(c)
			s.log.Info().Str("remote", r.RemoteAddr).Msg("ws client disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.dispatch(c, data)
		}
	}()
}

type inboundCommand struct {
	Operation     *string         `json:"operation"`
	UUID          json.RawMessage `json:"uuid"`
	Configuration json.RawMessage `json:"configuration"`
}

func (s *Server) dispatch(c *peer, data []byte) {
	var cmd inboundCommand
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Operation == nil {
		s.log.Warn().Bytes("frame", data).Msg("unreadable command")
		return
	}
	id := stringValue(cmd.UUID)

	switch op := protocol.Operation(*cmd.Operation); op {
	case protocol.OpConfigure:
		cfg, err := objectValue(cmd.Configuration)
		if err != nil || cfg == nil {
			s.replyError(c, replyBadConfig)
			return
		}
		req, err := s.registry.Create(cfg, c)
		if err != nil {
			s.log.Warn().Err(err).Msg("configure rejected")
			s.replyError(c, replyBadConfig)
			return
		}
		s.reply(c, map[string]any{
			"status":        replyConfigured,
			"uuid":          req.ID,
			"configuration": req.Configuration(),
		})

	case protocol.OpUpdateRequest:
		if id == "" {
			s.replyError(c, replyBadUpdate)
			return
		}
		req, ok := s.registry.Get(id)
		if !ok {
			s.replyError(c, replyNotFound)
			return
		}
		if req.Finished() {
			s.replyError(c, replyFinished)
			return
		}
		cfg, err := objectValue(cmd.Configuration)
		if err != nil || cfg == nil {
			s.replyError(c, replyBadUpdate)
			return
		}
		if err := req.Update(cfg); err != nil {
			s.log.Warn().Err(err).Str("uuid", id).Msg("update rejected")
			s.replyError(c, replyBadUpdate)
			return
		}
		s.replyStatus(c, replyReconfigured)

	case protocol.OpStart:
		if id == "" {
			s.replyError(c, replyUUIDRequired)
			return
		}
		req, ok := s.registry.Get(id)
		if !ok {
			s.replyError(c, replyNotFound)
			return
		}
		if req.Finished() {
			s.replyError(c, replyFinished)
			return
		}
		if !req.Start(s.ctx, func() { s.replyStatus(c, replyStarted) }) {
			s.replyStatus(c, replyAlreadyRuns)
		}

	case protocol.OpStop:
		if id == "" {
			s.replyError(c, replyUUIDRequired)
			return
		}
		req, ok := s.registry.Get(id)
		if !ok {
			s.replyError(c, replyNotFound)
			return
		}
		switch {
		case !req.Started():
			s.replyError(c, replyNotStarted)
		case req.Finished():
			s.replyError(c, replyFinished)
		case !req.Stop():
			s.replyStatus(c, replyAlreadyStopped)
		default:
			s.replyStatus(c, replyStopped)
		}

	default:
		s.log.Warn().Str("operation", string(op)).Msg("unsupported operation")
		s.replyError(c, "Unsupported operation: "+string(op))
	}
}

func (s *Server) reply(c *peer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("reply marshal error")
		return
	}
	c.Deliver(data)
}

func (s *Server) replyStatus(c *peer, status string) {
	s.reply(c, map[string]string{"status": status})
}

func (s *Server) replyError(c *peer, msg string) {
	s.reply(c, map[string]string{"error": msg})
}

// handleGenerate creates and immediately starts a request, answering with
// its bare identifier.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg protocol.Configuration
	body, err := readBody(r)
	if err == nil && len(body) > 0 {
		cfg, err = objectValue(body)
	}
	if err != nil {
		http.Error(w, replyBadConfig, http.StatusBadRequest)
		return
	}
	req, err := s.registry.Create(cfg, nil)
	if err != nil {
		http.Error(w, replyBadConfig, http.StatusBadRequest)
		return
	}
	req.Start(s.ctx, nil)

	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, req.ID)
}

// handleJSON returns and clears the results queued so far.
func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	req, ok := s.requestFromPath(w, r, "/json/", http.MethodGet)
	if !ok {
		return
	}
	results := req.Drain()
	var buf strings.Builder
	buf.WriteString("[")
	for i, p := range results {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
		buf.Write(p)
	}
	if len(results) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]")

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(buf.String()))
}

// handleZip serves the archive once; the request is forgotten afterwards.
func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	req, ok := s.requestFromPath(w, r, "/zip/", http.MethodGet)
	if !ok {
		return
	}
	archive := req.Archive()
	if archive == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.registry.Remove(req.ID)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.ID+".zip"))
	w.Header().Set("Content-Length", fmt.Sprint(len(archive)))
	_, _ = w.Write(archive)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.requestFromPath(w, r, "/terminate/", http.MethodDelete)
	if !ok {
		return
	}
	req.Stop()
	s.registry.Remove(req.ID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) requestFromPath(w http.ResponseWriter, r *http.Request, prefix, method string) (*Request, bool) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, prefix))
	if err != nil || id == "" || strings.Contains(id, "/") {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return nil, false
	}
	req, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, "request not found", http.StatusNotFound)
		return nil, false
	}
	return req, true
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.registry.Sweep(s.retention); n > 0 {
				s.log.Info().Int("removed", n).Msg("expired finished requests")
			}
		}
	}
}

// ListenAndServe serves handler on host:port until ctx is cancelled.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, log zerolog.Logger) error {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("mock service listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func stringValue(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// objectValue decodes a configuration object. Absent or null yields nil.
func objectValue(raw json.RawMessage) (protocol.Configuration, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return protocol.DecodeConfiguration(raw)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}
