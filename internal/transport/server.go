package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/protocol"
)

// ServerConfig configures a Server's HTTP upgrade behavior.
type ServerConfig struct {
	SendQueueDepth int
	MaxFrameBytes  int64
	TLSConfig      *tls.Config // nil disables TLS
}

// Server accepts WebSocket upgrades, assigns each connection a stable id,
// and tracks the set of live connections for broadcast.
type Server struct {
	cfg      ServerConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader

	OnConnect    func(*Connection)
	OnDisconnect func(*Connection, string)

	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewServer creates a Server. Mount its Handler on an http.ServeMux to
// accept connections.
func NewServer(cfg ServerConfig, log zerolog.Logger) *Server {
	if cfg.SendQueueDepth <= 0 {
		cfg.SendQueueDepth = DefaultSendQueueDepth
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &Server{
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Connection),
	}
}

// Handler upgrades an incoming HTTP request to a WebSocket connection and
// starts its pumps in a new goroutine.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	conn := NewConnection(id, wsConn, s.log, s.cfg.SendQueueDepth, s.cfg.MaxFrameBytes)

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()

	conn.OnDisconnect = func(c *Connection, reason string) {
		s.mu.Lock()
		delete(s.conns, c.ID)
		s.mu.Unlock()
		if s.OnDisconnect != nil {
			s.OnDisconnect(c, reason)
		}
	}

	if s.OnConnect != nil {
		s.OnConnect(conn)
	}

	go conn.Start()
}

// ListenAndServe starts an HTTP server mounting Handler at path and, if TLS
// is configured, serving wss://.
func (s *Server) ListenAndServe(addr, path string) error {
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.Handler)

	srv := &http.Server{Addr: addr, Handler: mux, TLSConfig: s.cfg.TLSConfig}
	if s.cfg.TLSConfig != nil {
		return srv.ListenAndServeTLS("", "")
	}
	return srv.ListenAndServe()
}

// Get returns a live connection by id.
func (s *Server) Get(id string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// Broadcast sends msg to every live connection, skipping ones whose queue
// is full rather than blocking the caller. It returns the number of
// connections the message was successfully queued to.
func (s *Server) Broadcast(msg *protocol.Message) int {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.Send(msg); err == nil {
			sent++
		}
	}
	return sent
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Connections returns a snapshot slice of live connections.
func (s *Server) Connections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Close closes every live connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: closing connection %s: %w", c.ID, err)
		}
	}
	return firstErr
}
