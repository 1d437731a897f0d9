// Package server provides the WebSocket ingress: it upgrades HTTP
// connections, registers them with the core, and pumps frames between the
// socket and the event router.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jstrand/league-live/internal/live"
	"github.com/jstrand/league-live/internal/router"
)

// Errors
var (
	// ErrSlowConsumer is returned when a connection's send buffer is full.
	// The caller treats it as a delivery failure and drops the connection.
	ErrSlowConsumer = errors.New("send buffer full")

	errSessionClosed = errors.New("session closed")
)

// Config holds ingress settings.
type Config struct {
	Addr         string
	ReadLimit    int64
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

// Server accepts and services client WebSocket connections.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	service *live.Service

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.Mutex
	sessions map[*session]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates the ingress server.
func NewServer(cfg Config, svc *live.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin enforcement belongs to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// Start begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info("websocket server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("websocket server error", "error", err)
		}
	}()
	return nil
}

// Stop closes the listener and every live session.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.httpSrv.Shutdown(ctx)

	s.mu.Lock()
	for sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("websocket server stopped")
	case <-ctx.Done():
		s.logger.Warn("websocket server stop timed out")
	}
	return nil
}

// handleWS upgrades one HTTP request into a connection lifecycle.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := newSession(ws, s.cfg.SendBuffer)
	s.track(sess)

	connID := s.service.Registry().Register(sess)
	s.logger.Debug("connection accepted", "conn", connID, "remote", r.RemoteAddr)

	s.wg.Add(1)
	go s.writePump(sess, connID)

	s.wg.Add(1)
	go s.readPump(sess, connID)
}

// readPump drives the connection: inbound frames go to the router, and any
// exit path unregisters the connection, cascading room and bucket cleanup.
func (s *Server) readPump(sess *session, connID string) {
	defer s.wg.Done()
	defer func() {
		s.untrack(sess)
		s.service.Registry().Unregister(connID)
	}()

	ws := sess.conn
	ws.SetReadLimit(s.cfg.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		s.service.Registry().Touch(connID)
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read error", "conn", connID, "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if err := s.service.Router().HandleFrame(s.ctx, connID, data); err != nil {
			if errors.Is(err, router.ErrCloseConnection) {
				s.logger.Debug("closing connection", "conn", connID, "reason", err)
			}
			return
		}
	}
}

// writePump serializes all socket writes for one connection and keeps the
// peer alive with pings.
func (s *Server) writePump(sess *session, connID string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer sess.conn.Close()

	for {
		select {
		case <-sess.done:
			sess.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return

		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write error", "conn", connID, "error", err)
				sess.Close()
				return
			}

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.Close()
				return
			}
		}
	}
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// session is the write side of one socket. It satisfies registry.Sink.
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(conn *websocket.Conn, sendBuffer int) *session {
	return &session{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues a frame without blocking. A full buffer means the client
// cannot keep up; the caller drops the connection rather than stalling a
// broadcast behind it.
func (sess *session) Send(data []byte) error {
	select {
	case <-sess.done:
		return errSessionClosed
	default:
	}

	select {
	case sess.send <- data:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close signals the write pump to send a close frame and tear down.
func (sess *session) Close() error {
	sess.once.Do(func() { close(sess.done) })
	return nil
}
