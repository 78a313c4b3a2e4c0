// Package devserver streams shader reload events to development tools
// over websockets. An editor plugin or browser overlay connects, and
// every successful hot recompile arrives as one JSON message with the
// changed path and the affected pipelines.
//
// The server is a passive listener: register its Callback on a
// shaderwatch.Manager and serve its Handler.
package devserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gogpu/shaderwatch"
)

// writeTimeout bounds one broadcast write so a stalled client cannot
// hold up reload dispatch.
const writeTimeout = 2 * time.Second

// Message is the wire form of one reload event.
type Message struct {
	Path      string    `json:"path"`
	Pipelines []string  `json:"pipelines"`
	At        time.Time `json:"at"`
}

// Server broadcasts reload events to connected websocket clients.
// Clients that fail a write are disconnected; they can reconnect at any
// time. Safe for concurrent use.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// New creates a Server.
func New() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dev tooling connects from editors and local pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the websocket upgrade endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			shaderwatch.Logger().Debug("websocket upgrade failed", "error", err)
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[conn] = struct{}{}
		s.mu.Unlock()

		// Drain (and discard) client frames; exit on disconnect.
		go func() {
			defer s.drop(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// Callback returns a ReloadCallback that broadcasts each event.
func (s *Server) Callback() shaderwatch.ReloadCallback {
	return func(ev shaderwatch.ReloadEvent) {
		s.Broadcast(Message{Path: ev.Path, Pipelines: ev.Pipelines, At: ev.At})
	}
}

// Broadcast sends msg to every connected client, dropping clients whose
// writes fail or time out.
func (s *Server) Broadcast(msg Message) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			shaderwatch.Logger().Debug("dropping websocket client", "error", err)
			s.drop(conn)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and rejects future connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// drop removes and closes one client connection.
func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
}
