// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
	"github.com/davidryuky/Retro-Chat-95/transport"
)

// Compile-time interface check.
var _ transport.Adapter = (*Adapter)(nil)

const (
	// DefaultKey is the API key public PeerJS servers accept.
	DefaultKey = "peerjs"

	// heartbeatInterval is how often a registered client pings the
	// server.
	heartbeatInterval = 5 * time.Second

	// writeTimeout bounds one WebSocket write.
	writeTimeout = 5 * time.Second

	// guestIDPrefix starts the random registration id of a guest.
	guestIDPrefix = "retrochat95-guest-"

	// serialization tells PeerJS peers that frames are sent as is.
	serialization = "raw"
)

// Options configures signaling adapters.
type Options struct {
	Logger *slog.Logger

	// Key is the server's API key. Empty means DefaultKey.
	Key string

	// Clock drives heartbeats. Nil means the real clock.
	Clock clock.Clock

	// Dialer opens the WebSocket. Nil means websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// NewFactory returns a transport.Factory producing signaling adapters.
func NewFactory(options Options) transport.Factory {
	return func(endpoint transport.Endpoint) (transport.Adapter, error) {
		return New(endpoint, options), nil
	}
}

// Adapter is the signaling backend's transport.Adapter.
type Adapter struct {
	endpoint transport.Endpoint
	key      string
	clock    clock.Clock
	dialer   *websocket.Dialer
	logger   *slog.Logger
	emitter  *transport.Emitter

	mu      sync.Mutex
	session *session
	left    bool
}

// New creates an unconnected signaling adapter for endpoint.
func New(endpoint transport.Endpoint, options Options) *Adapter {
	adapter := &Adapter{
		endpoint: endpoint,
		key:      options.Key,
		clock:    options.Clock,
		dialer:   options.Dialer,
		logger:   options.Logger,
		emitter:  transport.NewEmitter(),
	}
	if adapter.key == "" {
		adapter.key = DefaultKey
	}
	if adapter.clock == nil {
		adapter.clock = clock.Real()
	}
	if adapter.dialer == nil {
		adapter.dialer = websocket.DefaultDialer
	}
	if adapter.logger == nil {
		adapter.logger = slog.New(slog.DiscardHandler)
	}
	adapter.logger = adapter.logger.With("backend", transport.KindSignaling, "server", endpoint.URL)
	return adapter
}

func (a *Adapter) Kind() transport.Kind { return transport.KindSignaling }

func (a *Adapter) Events() <-chan transport.Event { return a.emitter.Events() }

// Connect registers with the signaling server. A host reports EventOpen
// once registered; a guest reports it once its data channel to the host
// opens.
func (a *Adapter) Connect(ctx context.Context, target transport.Target) error {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return transport.ErrClosed
	}
	previous := a.session
	current := newSession(ctx, a, target)
	a.session = current
	a.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	go current.run()
	return nil
}

// Send writes frame to the open data channel.
func (a *Adapter) Send(frame []byte) error {
	a.mu.Lock()
	current, left := a.session, a.left
	a.mu.Unlock()

	if left {
		return transport.ErrClosed
	}
	if current == nil {
		return transport.ErrNotConnected
	}
	return current.send(frame)
}

// Leave closes the peer link and the signaling socket, then the event
// channel.
func (a *Adapter) Leave() error {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return nil
	}
	a.left = true
	current := a.session
	a.session = nil
	a.mu.Unlock()

	if current != nil {
		current.close()
	}
	a.emitter.Close()
	return nil
}

// emitFrom delivers event if s is still the adapter's session.
func (a *Adapter) emitFrom(s *session, event transport.Event) {
	a.mu.Lock()
	current := a.session == s && !a.left
	a.mu.Unlock()
	if current {
		a.emitter.Emit(event)
	}
}

// session is one registration with the signaling server and at most
// one peer link.
type session struct {
	adapter *Adapter
	target  transport.Target
	localID string
	token   string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	conn         *websocket.Conn
	link         *transport.PeerLink
	linkPeer     string
	linkOpen     bool
	connectionID string
	announced    bool
	socketLost   bool
	ended        bool
}

func newSession(ctx context.Context, adapter *Adapter, target transport.Target) *session {
	sessionContext, cancel := context.WithCancel(ctx)
	localID := target.Room.RoomID
	if target.Role == transport.RoleGuest {
		localID = guestIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return &session{
		adapter: adapter,
		target:  target,
		localID: localID,
		token:   uuid.NewString(),
		ctx:     sessionContext,
		cancel:  cancel,
		logger:  adapter.logger.With("id", localID, "role", target.Role),
	}
}

func (s *session) emit(event transport.Event) {
	s.adapter.emitFrom(s, event)
}

func (s *session) run() {
	socketURL, err := SocketURL(s.adapter.endpoint.URL, s.adapter.key, s.localID, s.token)
	if err != nil {
		s.failConnect(err)
		return
	}
	conn, _, err := s.adapter.dialer.DialContext(s.ctx, socketURL, nil)
	if err != nil {
		s.failConnect(fmt.Errorf("dialing signaling server %s: %w", s.adapter.endpoint.URL, err))
		return
	}
	if !s.attach(conn) {
		conn.Close()
		return
	}

	first, err := s.read(conn)
	if err != nil {
		s.failConnect(fmt.Errorf("waiting for registration: %w", err))
		return
	}
	switch first.Type {
	case TypeOpen:
	case TypeIDTaken:
		s.failConnect(fmt.Errorf("registering %s: %w", s.localID, ErrIDTaken))
		return
	default:
		s.failConnect(fmt.Errorf("registering %s: %s", s.localID, first.ErrorMessage()))
		return
	}
	s.logger.Info("registered with signaling server")

	go s.heartbeat()

	if s.target.Role == transport.RoleHost {
		s.mu.Lock()
		s.announced = true
		s.mu.Unlock()
		s.emit(transport.Open())
	} else if err := s.offer(); err != nil {
		s.failConnect(err)
		return
	}

	for {
		message, err := s.read(conn)
		if err != nil {
			conn.Close()
			s.lostSocket(err)
			return
		}
		s.handle(message)
	}
}

// attach records conn unless the session was closed while dialing.
func (s *session) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.conn = conn
	return true
}

// read returns the next well-formed message, skipping malformed ones.
func (s *session) read(conn *websocket.Conn) (Message, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			s.logger.Debug("dropping malformed signaling message", "error", err)
			continue
		}
		return message, nil
	}
}

func (s *session) write(message Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return transport.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(message)
}

func (s *session) heartbeat() {
	ticker := s.adapter.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(Message{Type: TypeHeartbeat}); err != nil {
				s.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *session) handle(message Message) {
	switch message.Type {
	case TypeOffer:
		if s.target.Role == transport.RoleHost {
			s.acceptOffer(message)
		}
	case TypeAnswer:
		s.acceptAnswer(message)
	case TypeCandidate:
		s.acceptCandidate(message)
	case TypeLeave:
		s.peerLeft(message.Src)
	case TypeExpire:
		if s.target.Role == transport.RoleGuest && message.Src == s.target.Room.RoomID {
			s.failConnect(fmt.Errorf("offer to %s: %w", message.Src, ErrPeerUnavailable))
		}
	case TypeError:
		s.emit(transport.Failure(transport.ErrorKindRuntime, errors.New(message.ErrorMessage())))
	default:
		s.logger.Debug("ignoring signaling message", "type", message.Type)
	}
}

// newLink creates a PeerLink to peer whose callbacks report through
// this session while the link is current.
func (s *session) newLink(peer string) (*transport.PeerLink, error) {
	var link *transport.PeerLink
	callbacks := transport.LinkCallbacks{
		OnOpen:    func() { s.linkOpened(link, peer) },
		OnMessage: func(frame []byte) { s.emit(transport.Message(frame)) },
		OnClose:   func() { s.linkClosed(link, peer) },
	}
	link, err := transport.NewPeerLink(s.adapter.endpoint.ICE, callbacks, s.adapter.clock, s.logger)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// offer starts the guest's link to the host.
func (s *session) offer() error {
	host := s.target.Room.RoomID
	link, err := s.newLink(host)
	if err != nil {
		return err
	}
	connectionID := "dc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		link.Close()
		return nil
	}
	s.link, s.linkPeer, s.connectionID = link, host, connectionID
	s.mu.Unlock()

	offer, err := link.CreateOffer(s.ctx)
	if err != nil {
		return err
	}
	message, err := NewMessage(TypeOffer, host, ConnectionPayload{
		SDP:           &offer,
		Type:          connectionType,
		ConnectionID:  connectionID,
		Label:         transport.ChannelLabel,
		Reliable:      true,
		Serialization: serialization,
	})
	if err != nil {
		return err
	}
	if err := s.write(message); err != nil {
		return fmt.Errorf("sending offer: %w", err)
	}
	s.logger.Info("offer sent", "host", host)
	return nil
}

// acceptOffer answers a guest's offer unless a link is already open.
func (s *session) acceptOffer(message Message) {
	payload, err := message.ConnectionPayload()
	if err != nil || payload.SDP == nil {
		s.logger.Debug("ignoring offer without SDP", "from", message.Src, "error", err)
		return
	}

	s.mu.Lock()
	if s.link != nil && s.linkOpen {
		s.mu.Unlock()
		s.logger.Info("refusing offer while linked", "from", message.Src)
		if err := s.write(Message{Type: TypeLeave, Dst: message.Src}); err != nil {
			s.logger.Debug("sending refusal failed", "to", message.Src, "error", err)
		}
		return
	}
	stale := s.link
	s.link, s.linkPeer = nil, ""
	s.mu.Unlock()
	if stale != nil {
		stale.Close()
	}

	link, err := s.newLink(message.Src)
	if err != nil {
		s.logger.Warn("creating peer link failed", "error", err)
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		link.Close()
		return
	}
	s.link, s.linkPeer, s.connectionID = link, message.Src, payload.ConnectionID
	s.mu.Unlock()

	answer, err := link.CreateAnswer(s.ctx, *payload.SDP)
	if err != nil {
		s.logger.Warn("answering offer failed", "from", message.Src, "error", err)
		s.dropLink(link)
		return
	}
	reply, err := NewMessage(TypeAnswer, message.Src, ConnectionPayload{
		SDP:          &answer,
		Type:         connectionType,
		ConnectionID: payload.ConnectionID,
	})
	if err == nil {
		err = s.write(reply)
	}
	if err != nil {
		s.logger.Warn("sending answer failed", "to", message.Src, "error", err)
		s.dropLink(link)
		return
	}
	s.logger.Info("answered offer", "from", message.Src)
}

func (s *session) acceptAnswer(message Message) {
	payload, err := message.ConnectionPayload()
	if err != nil || payload.SDP == nil {
		return
	}
	link := s.linkFor(message.Src, payload.ConnectionID)
	if link == nil {
		return
	}
	if err := link.AcceptAnswer(*payload.SDP); err != nil {
		s.failConnect(err)
	}
}

func (s *session) acceptCandidate(message Message) {
	payload, err := message.ConnectionPayload()
	if err != nil || payload.Candidate == nil {
		return
	}
	link := s.linkFor(message.Src, payload.ConnectionID)
	if link == nil {
		return
	}
	if err := link.AddCandidate(*payload.Candidate); err != nil {
		s.logger.Debug("ignoring ICE candidate", "error", err)
	}
}

// linkFor returns the current link if it belongs to peer and
// connectionID.
func (s *session) linkFor(peer, connectionID string) *transport.PeerLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil || s.linkPeer != peer || s.connectionID != connectionID {
		return nil
	}
	return s.link
}

func (s *session) linkOpened(link *transport.PeerLink, peer string) {
	s.mu.Lock()
	if s.link != link || s.ended {
		s.mu.Unlock()
		return
	}
	s.linkOpen = true
	firstOpen := !s.announced
	s.announced = true
	s.mu.Unlock()

	s.logger.Info("peer link open", "peer", peer)
	if firstOpen {
		s.emit(transport.Open())
	}
	s.emit(transport.PeerJoined(peer))
}

func (s *session) linkClosed(link *transport.PeerLink, peer string) {
	s.mu.Lock()
	if s.link != link || s.ended {
		s.mu.Unlock()
		return
	}
	wasOpen := s.linkOpen
	s.link, s.linkPeer, s.linkOpen = nil, "", false
	socketLost := s.socketLost
	s.mu.Unlock()

	s.logger.Info("peer link closed", "peer", peer, "was_open", wasOpen)
	if s.target.Role == transport.RoleGuest {
		if !wasOpen {
			s.failConnect(fmt.Errorf("peer link to %s failed before opening", peer))
			return
		}
		s.emit(transport.Failure(transport.ErrorKindRuntime, fmt.Errorf("peer link to %s closed", peer)))
		s.emit(transport.Closed())
		return
	}
	if wasOpen {
		s.emit(transport.PeerLeft(peer))
	}
	if socketLost {
		s.emit(transport.Failure(transport.ErrorKindRuntime, errors.New("signaling connection lost")))
		s.emit(transport.Closed())
	}
}

// peerLeft handles a LEAVE relayed from peer.
func (s *session) peerLeft(peer string) {
	s.mu.Lock()
	link := s.link
	matches := link != nil && s.linkPeer == peer
	wasOpen := s.linkOpen
	s.mu.Unlock()
	if !matches {
		return
	}

	if s.target.Role == transport.RoleGuest && !wasOpen {
		s.dropLink(link)
		s.failConnect(fmt.Errorf("offer to %s: %w", peer, ErrRejected))
		return
	}
	// A local Close suppresses the link's own callbacks.
	link.Close()
	s.linkClosed(link, peer)
}

// dropLink closes link and forgets it if it is still current.
func (s *session) dropLink(link *transport.PeerLink) {
	s.mu.Lock()
	if s.link == link {
		s.link, s.linkPeer, s.linkOpen = nil, "", false
	}
	s.mu.Unlock()
	link.Close()
}

// lostSocket handles the signaling WebSocket ending. An open peer link
// outlives it.
func (s *session) lostSocket(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.socketLost = true
	linked := s.link != nil && s.linkOpen
	announced := s.announced
	s.mu.Unlock()

	if linked {
		s.logger.Warn("signaling connection lost, keeping peer link", "error", err)
		return
	}
	if !announced {
		s.failConnect(fmt.Errorf("signaling connection closed: %w", err))
		return
	}
	s.logger.Warn("signaling connection lost", "error", err)
	s.emit(transport.Failure(transport.ErrorKindRuntime, fmt.Errorf("signaling connection lost: %w", err)))
	s.emit(transport.Closed())
}

func (s *session) failConnect(err error) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}
	s.logger.Warn("signaling connect failed", "error", err)
	s.emit(transport.Failure(transport.ErrorKindConnect, err))
}

func (s *session) send(frame []byte) error {
	s.mu.Lock()
	link, open := s.link, s.linkOpen
	s.mu.Unlock()
	if link == nil || !open {
		return transport.ErrNotConnected
	}
	return link.Send(frame)
}

// close tells the linked peer goodbye and releases the link and socket.
func (s *session) close() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	link, peer, conn := s.link, s.linkPeer, s.conn
	s.link, s.linkOpen = nil, false
	s.mu.Unlock()

	s.cancel()
	if link != nil {
		link.Close()
	}
	if conn == nil {
		return
	}
	if peer != "" {
		if err := s.write(Message{Type: TypeLeave, Dst: peer}); err != nil {
			s.logger.Debug("sending goodbye failed", "to", peer, "error", err)
		}
	}
	s.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Debug("sending close frame failed", "error", err)
	}
	conn.Close()
}
