// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signalserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidryuky/Retro-Chat-95/transport/signaling"
)

const (
	// DefaultPath is where the WebSocket endpoint is served.
	DefaultPath = "/peerjs"

	// DefaultAliveTimeout disconnects clients that have been silent
	// this long.
	DefaultAliveTimeout = 60 * time.Second

	shutdownTimeout  = 10 * time.Second
	handshakeTimeout = 3 * time.Second
	writeTimeout     = 5 * time.Second
	maxMessageSize   = 64 * 1024
	outboxDepth      = 64
)

// Options configures a Server.
type Options struct {
	Logger *slog.Logger

	// Key is the API key clients must present. Empty means
	// signaling.DefaultKey.
	Key string

	// Path is the WebSocket endpoint. Empty means DefaultPath.
	Path string

	// AliveTimeout is the silence allowed before a client is dropped.
	AliveTimeout time.Duration
}

// Server relays signaling messages between registered clients.
type Server struct {
	key          string
	path         string
	aliveTimeout time.Duration
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	mux          *http.ServeMux

	mu      sync.Mutex
	clients map[string]*client
}

// client is one registered WebSocket.
type client struct {
	id     string
	token  string
	conn   *websocket.Conn
	outbox chan signaling.Message
	done   chan struct{}

	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// New creates a Server.
func New(options Options) *Server {
	server := &Server{
		key:          options.Key,
		path:         options.Path,
		aliveTimeout: options.AliveTimeout,
		logger:       options.Logger,
		clients:      make(map[string]*client),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
	if server.key == "" {
		server.key = signaling.DefaultKey
	}
	if server.path == "" {
		server.path = DefaultPath
	}
	if server.aliveTimeout <= 0 {
		server.aliveTimeout = DefaultAliveTimeout
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}
	server.mux = http.NewServeMux()
	server.mux.HandleFunc(server.path, server.serveSocket)
	return server
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.mux.ServeHTTP(writer, request)
}

// ListenAndServe serves on address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           s,
		ReadHeaderTimeout: handshakeTimeout,
	}

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.ListenAndServe()
	}()
	s.logger.Info("signaling server started", "address", address, "path", s.path)

	select {
	case err := <-serveErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", address, err)
	case <-ctx.Done():
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownContext); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		s.closeAll()
		return nil
	}
}

// Clients returns the number of registered ids.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) serveSocket(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	key, id, token := query.Get("key"), query.Get("id"), query.Get("token")

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	switch {
	case key != s.key:
		s.reject(conn, signaling.TypeError, "Invalid key provided")
		return
	case id == "" || token == "":
		s.reject(conn, signaling.TypeError, "No id, token, or key supplied to websocket server")
		return
	}

	registered := &client{
		id:     id,
		token:  token,
		conn:   conn,
		outbox: make(chan signaling.Message, outboxDepth),
		done:   make(chan struct{}),
	}
	replaced, ok := s.register(registered)
	if !ok {
		s.reject(conn, signaling.TypeIDTaken, "ID is taken")
		return
	}
	if replaced != nil {
		replaced.close()
	}

	logger := s.logger.With("id", id)
	logger.Debug("client registered")
	registered.outbox <- signaling.Message{Type: signaling.TypeOpen}

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		s.writeLoop(registered, logger)
	}()
	s.readLoop(registered, logger)
	registered.close()
	waitGroup.Wait()

	s.unregister(registered)
	conn.Close()
	logger.Debug("client disconnected")
}

// register adds c. A live registration with the same id is replaced
// only when the token matches.
func (s *Server) register(c *client) (replaced *client, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, taken := s.clients[c.id]; taken {
		if existing.token != c.token {
			return nil, false
		}
		replaced = existing
	}
	s.clients[c.id] = c
	return replaced, true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
}

func (s *Server) lookup(id string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}

func (s *Server) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
		c.conn.Close()
	}
}

// reject sends one message and closes the socket.
func (s *Server) reject(conn *websocket.Conn, messageType signaling.MessageType, text string) {
	message, err := signaling.NewMessage(messageType, "", signaling.ErrorPayload{Msg: text})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err = conn.WriteJSON(message)
	}
	if err != nil {
		s.logger.Debug("sending rejection failed", "type", messageType, "error", err)
	}
	if err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, text),
		time.Now().Add(writeTimeout)); err != nil {
		s.logger.Debug("sending close frame failed", "error", err)
	}
	conn.Close()
}

func (s *Server) readLoop(c *client, logger *slog.Logger) {
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(s.aliveTimeout)); err != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read ended", "error", err)
			}
			return
		}

		var message signaling.Message
		if err := json.Unmarshal(data, &message); err != nil {
			logger.Debug("dropping malformed message", "error", err)
			continue
		}
		if !message.Type.Relayed() {
			continue
		}
		s.relay(c, message, logger)
	}
}

// relay forwards message from sender to its dst, answering EXPIRE when
// dst is not registered.
func (s *Server) relay(sender *client, message signaling.Message, logger *slog.Logger) {
	message.Src = sender.id
	destination := s.lookup(message.Dst)
	if destination == nil {
		if message.Type != signaling.TypeLeave {
			s.enqueue(sender, signaling.Message{Type: signaling.TypeExpire, Src: message.Dst, Dst: sender.id}, logger)
		}
		return
	}
	s.enqueue(destination, message, logger)
}

func (s *Server) enqueue(destination *client, message signaling.Message, logger *slog.Logger) {
	select {
	case destination.outbox <- message:
	case <-destination.done:
	default:
		logger.Warn("dropping message for slow client", "dst", destination.id, "type", message.Type)
	}
}

func (s *Server) writeLoop(c *client, logger *slog.Logger) {
	for {
		select {
		case <-c.done:
			if err := c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout)); err != nil {
				logger.Debug("sending close frame failed", "error", err)
			}
			c.conn.Close()
			return
		case message := <-c.outbox:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.close()
				continue
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logger.Debug("write failed", "error", err)
				c.close()
			}
		}
	}
}
