// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
	"github.com/davidryuky/Retro-Chat-95/transport"
)

// Compile-time interface check.
var _ transport.Adapter = (*Adapter)(nil)

const (
	// DefaultAnnounceInterval is how often an unlinked adapter offers
	// itself to the swarm again.
	DefaultAnnounceInterval = 30 * time.Second

	// writeTimeout bounds one WebSocket write.
	writeTimeout = 5 * time.Second

	// numWant asks the tracker for one peer: the chat is 1:1.
	numWant = 1
)

// ErrTrackerFailure wraps a tracker's "failure reason".
var ErrTrackerFailure = errors.New("mesh: tracker refused announce")

// Options configures mesh adapters.
type Options struct {
	Logger *slog.Logger

	// Clock drives re-announces. Nil means the real clock.
	Clock clock.Clock

	// AnnounceInterval defaults to DefaultAnnounceInterval.
	AnnounceInterval time.Duration

	// Dialer opens the tracker WebSocket. Nil means
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// NewFactory returns a transport.Factory producing mesh adapters.
func NewFactory(options Options) transport.Factory {
	return func(endpoint transport.Endpoint) (transport.Adapter, error) {
		return New(endpoint, options), nil
	}
}

// Adapter is the mesh backend's transport.Adapter.
type Adapter struct {
	endpoint transport.Endpoint
	clock    clock.Clock
	interval time.Duration
	dialer   *websocket.Dialer
	logger   *slog.Logger
	emitter  *transport.Emitter

	mu      sync.Mutex
	session *session
	left    bool
}

// New creates an unconnected mesh adapter for the tracker at endpoint.
func New(endpoint transport.Endpoint, options Options) *Adapter {
	adapter := &Adapter{
		endpoint: endpoint,
		clock:    options.Clock,
		interval: options.AnnounceInterval,
		dialer:   options.Dialer,
		logger:   options.Logger,
		emitter:  transport.NewEmitter(),
	}
	if adapter.clock == nil {
		adapter.clock = clock.Real()
	}
	if adapter.interval <= 0 {
		adapter.interval = DefaultAnnounceInterval
	}
	if adapter.dialer == nil {
		adapter.dialer = websocket.DefaultDialer
	}
	if adapter.logger == nil {
		adapter.logger = slog.New(slog.DiscardHandler)
	}
	adapter.logger = adapter.logger.With("backend", transport.KindMesh, "tracker", endpoint.URL)
	return adapter
}

func (a *Adapter) Kind() transport.Kind { return transport.KindMesh }

func (a *Adapter) Events() <-chan transport.Event { return a.emitter.Events() }

// Connect joins the room's swarm on the tracker. A host reports
// EventOpen once the tracker acknowledges its announce; a guest reports
// it once a data channel opens.
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

// Send writes frame to the active data channel.
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

// Leave closes every link and the tracker socket, then the event
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

func (a *Adapter) emitFrom(s *session, event transport.Event) {
	a.mu.Lock()
	current := a.session == s && !a.left
	a.mu.Unlock()
	if current {
		a.emitter.Emit(event)
	}
}

// candidate is one PeerLink being negotiated or in use.
type candidate struct {
	link    *transport.PeerLink
	offerID string

	// offerer is the peer id of the side that made the offer.
	offerer string

	// peer is the remote peer id; empty until one of our offers is
	// answered.
	peer string
	open bool
}

// session is one tracker connection and the links it produced.
type session struct {
	adapter  *Adapter
	target   transport.Target
	peerID   string
	infoHash string
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	writeMu    sync.Mutex
	announceMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	candidates map[*candidate]struct{}
	offers     map[string]*candidate
	active     *candidate
	announces  int
	announced  bool
	socketLost bool
	ended      bool
}

func newSession(ctx context.Context, adapter *Adapter, target transport.Target) *session {
	sessionContext, cancel := context.WithCancel(ctx)
	peerID := randomID()
	return &session{
		adapter:    adapter,
		target:     target,
		peerID:     peerID,
		infoHash:   target.Room.InfoHash(),
		ctx:        sessionContext,
		cancel:     cancel,
		logger:     adapter.logger.With("peer_id", peerID, "role", target.Role),
		candidates: make(map[*candidate]struct{}),
		offers:     make(map[string]*candidate),
	}
}

func (s *session) emit(event transport.Event) {
	s.adapter.emitFrom(s, event)
}

func (s *session) run() {
	conn, _, err := s.adapter.dialer.DialContext(s.ctx, s.adapter.endpoint.URL, nil)
	if err != nil {
		s.failConnect(fmt.Errorf("dialing tracker %s: %w", s.adapter.endpoint.URL, err))
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.announce(); err != nil {
		s.failConnect(err)
		return
	}
	go s.reannounce()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.lostSocket(err)
			return
		}
		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			s.logger.Debug("dropping malformed tracker message", "error", err)
			continue
		}
		s.handle(message)
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

// announce gathers one fresh offer and announces it. Earlier offers
// nobody answered are withdrawn.
func (s *session) announce() error {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	offerID := randomID()
	pending := &candidate{offerID: offerID, offerer: s.peerID}
	link, err := s.newLink(pending)
	if err != nil {
		return err
	}
	pending.link = link

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		link.Close()
		return nil
	}
	var withdrawn []*candidate
	for id, previous := range s.offers {
		if previous.peer == "" {
			withdrawn = append(withdrawn, previous)
			delete(s.offers, id)
			delete(s.candidates, previous)
		}
	}
	s.candidates[pending] = struct{}{}
	s.offers[offerID] = pending
	event := ""
	if s.announces == 0 {
		event = "started"
	}
	s.announces++
	s.mu.Unlock()

	for _, previous := range withdrawn {
		previous.link.Close()
	}

	offer, err := link.CreateOffer(s.ctx)
	if err != nil {
		return err
	}
	err = s.write(Message{
		Action:   actionAnnounce,
		InfoHash: s.infoHash,
		PeerID:   s.peerID,
		Event:    event,
		NumWant:  numWant,
		Offers:   []Offer{{Offer: offer, OfferID: offerID}},
	})
	if err != nil {
		return fmt.Errorf("announcing to tracker: %w", err)
	}
	s.logger.Debug("announced", "info_hash", s.infoHash, "offer_id", offerID)
	return nil
}

// reannounce offers again on every interval while no link is active.
func (s *session) reannounce() {
	ticker := s.adapter.clock.NewTicker(s.adapter.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.linked() {
				continue
			}
			if err := s.announce(); err != nil {
				s.logger.Warn("re-announce failed", "error", err)
			}
		}
	}
}

func (s *session) linked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *session) handle(message Message) {
	if message.FailureReason != "" {
		err := fmt.Errorf("%w: %s", ErrTrackerFailure, message.FailureReason)
		s.mu.Lock()
		announced := s.announced
		s.mu.Unlock()
		if !announced {
			s.failConnect(err)
			return
		}
		s.emit(transport.Failure(transport.ErrorKindRuntime, err))
		return
	}
	if message.WarningMessage != "" {
		s.logger.Debug("tracker warning", "message", message.WarningMessage)
	}
	if message.InfoHash != s.infoHash || message.PeerID == s.peerID {
		return
	}

	switch {
	case message.Offer != nil:
		s.acceptOffer(message)
	case message.Answer != nil:
		s.acceptAnswer(message)
	default:
		s.acknowledged(message)
	}
}

// acknowledged handles the tracker's response to an announce.
func (s *session) acknowledged(message Message) {
	s.mu.Lock()
	first := !s.announced
	s.announced = true
	s.mu.Unlock()

	if !first {
		return
	}
	s.logger.Info("tracker accepted announce", "interval", message.Interval, "peers", message.Complete+message.Incomplete)
	if s.target.Role == transport.RoleHost {
		s.emit(transport.Open())
	}
}

func (s *session) newLink(owner *candidate) (*transport.PeerLink, error) {
	callbacks := transport.LinkCallbacks{
		OnOpen:    func() { s.linkOpened(owner) },
		OnMessage: func(frame []byte) { s.deliver(owner, frame) },
		OnClose:   func() { s.linkClosed(owner) },
	}
	return transport.NewPeerLink(s.adapter.endpoint.ICE, callbacks, s.adapter.clock, s.logger)
}

func (s *session) acceptOffer(message Message) {
	s.mu.Lock()
	if s.ended || s.active != nil {
		s.mu.Unlock()
		return
	}
	for existing := range s.candidates {
		if existing.offerID == message.OfferID && existing.peer == message.PeerID {
			s.mu.Unlock()
			return
		}
	}
	inbound := &candidate{offerID: message.OfferID, offerer: message.PeerID, peer: message.PeerID}
	s.candidates[inbound] = struct{}{}
	s.mu.Unlock()

	link, err := s.newLink(inbound)
	if err != nil {
		s.logger.Warn("creating peer link failed", "error", err)
		s.forget(inbound)
		return
	}
	s.mu.Lock()
	inbound.link = link
	s.mu.Unlock()

	answer, err := link.CreateAnswer(s.ctx, *message.Offer)
	if err == nil {
		err = s.write(Message{
			Action:   actionAnnounce,
			InfoHash: s.infoHash,
			PeerID:   s.peerID,
			ToPeerID: message.PeerID,
			Answer:   &answer,
			OfferID:  message.OfferID,
		})
	}
	if err != nil {
		s.logger.Warn("answering offer failed", "from", message.PeerID, "error", err)
		s.forget(inbound)
		link.Close()
		return
	}
	s.logger.Debug("answered offer", "from", message.PeerID, "offer_id", message.OfferID)
}

func (s *session) acceptAnswer(message Message) {
	s.mu.Lock()
	pending := s.offers[message.OfferID]
	if pending == nil || pending.peer != "" {
		s.mu.Unlock()
		return
	}
	pending.peer = message.PeerID
	delete(s.offers, message.OfferID)
	link := pending.link
	s.mu.Unlock()

	if err := link.AcceptAnswer(*message.Answer); err != nil {
		s.logger.Warn("applying answer failed", "from", message.PeerID, "error", err)
		s.forget(pending)
		link.Close()
	}
}

// forget drops c from the session's bookkeeping.
func (s *session) forget(c *candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.candidates, c)
	if s.offers[c.offerID] == c {
		delete(s.offers, c.offerID)
	}
}

// linkOpened makes c the active link, or settles a duplicate by keeping
// the link whose offerer has the smaller peer id.
func (s *session) linkOpened(c *candidate) {
	s.mu.Lock()
	if _, known := s.candidates[c]; !known || s.ended {
		s.mu.Unlock()
		return
	}
	c.open = true

	var loser, replaced *candidate
	switch {
	case s.active == nil:
		s.active = c
	case c.offerer < s.active.offerer:
		loser, replaced = s.active, s.active
		s.active = c
	default:
		loser = c
	}
	if loser != nil {
		delete(s.candidates, loser)
	}
	winner := s.active
	firstOpen := s.target.Role == transport.RoleGuest && !s.announced
	if firstOpen {
		s.announced = true
	}
	s.mu.Unlock()

	if loser != nil {
		s.logger.Info("closing duplicate link", "peer", loser.peer, "offerer", loser.offerer)
		loser.link.Close()
	}
	if winner != c {
		return
	}
	if firstOpen {
		s.emit(transport.Open())
	}
	if replaced != nil {
		if replaced.peer == c.peer {
			return
		}
		s.emit(transport.PeerLeft(replaced.peer))
	}
	s.logger.Info("peer link open", "peer", c.peer)
	s.emit(transport.PeerJoined(c.peer))
}

func (s *session) deliver(c *candidate, frame []byte) {
	s.mu.Lock()
	active := s.active == c
	s.mu.Unlock()
	if active {
		s.emit(transport.Message(frame))
	}
}

func (s *session) linkClosed(c *candidate) {
	s.mu.Lock()
	delete(s.candidates, c)
	if s.offers[c.offerID] == c {
		delete(s.offers, c.offerID)
	}
	if s.active != c || s.ended {
		s.mu.Unlock()
		return
	}
	s.active = nil
	socketLost := s.socketLost
	s.mu.Unlock()

	s.logger.Info("peer link closed", "peer", c.peer)
	if s.target.Role == transport.RoleGuest {
		s.emit(transport.Failure(transport.ErrorKindRuntime, fmt.Errorf("peer link to %s closed", c.peer)))
		s.emit(transport.Closed())
		return
	}
	s.emit(transport.PeerLeft(c.peer))
	if socketLost {
		s.emit(transport.Failure(transport.ErrorKindRuntime, errors.New("tracker connection lost")))
		s.emit(transport.Closed())
		return
	}
	go func() {
		if err := s.announce(); err != nil {
			s.logger.Warn("re-announce after peer left failed", "error", err)
		}
	}()
}

func (s *session) lostSocket(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.socketLost = true
	linked := s.active != nil
	announced := s.announced
	s.mu.Unlock()

	if linked {
		s.logger.Warn("tracker connection lost, keeping peer link", "error", err)
		return
	}
	if !announced {
		s.failConnect(fmt.Errorf("tracker connection closed: %w", err))
		return
	}
	s.logger.Warn("tracker connection lost", "error", err)
	s.emit(transport.Failure(transport.ErrorKindRuntime, fmt.Errorf("tracker connection lost: %w", err)))
	s.emit(transport.Closed())
}

func (s *session) failConnect(err error) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}
	s.logger.Warn("mesh connect failed", "error", err)
	s.emit(transport.Failure(transport.ErrorKindConnect, err))
}

func (s *session) send(frame []byte) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return transport.ErrNotConnected
	}
	return active.link.Send(frame)
}

func (s *session) close() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	conn := s.conn
	links := make([]*transport.PeerLink, 0, len(s.candidates))
	for c := range s.candidates {
		if c.link != nil {
			links = append(links, c.link)
		}
	}
	s.candidates = make(map[*candidate]struct{})
	s.offers = make(map[string]*candidate)
	s.active = nil
	s.mu.Unlock()

	s.cancel()
	for _, link := range links {
		link.Close()
	}
	if conn != nil {
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
}
