// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
	"github.com/davidryuky/Retro-Chat-95/lib/roomcrypt"
	"github.com/davidryuky/Retro-Chat-95/lib/wire"
	"github.com/davidryuky/Retro-Chat-95/sessioncode"
	"github.com/davidryuky/Retro-Chat-95/transport"
	"github.com/davidryuky/Retro-Chat-95/transport/manager"
)

const (
	// TypingExpiry is how long the remote typing flag survives without
	// a new TYPING frame.
	TypingExpiry = 3 * time.Second

	// TypingThrottle is the minimum spacing of outgoing TYPING frames.
	TypingThrottle = 1 * time.Second

	// DefaultReceiptWindow bounds how many recent inbound messages are
	// acknowledged again when the UI returns to the foreground.
	DefaultReceiptWindow = 10

	// PeerJoinedControl is the SYSTEM text a guest sends when its link
	// comes up.
	PeerJoinedControl = "::retrochat:peer-joined::"

	// UndecryptableText replaces the content of a message that failed
	// authentication.
	UndecryptableText = "[unable to decrypt message]"
)

var (
	// ErrEmptyMessage rejects blank chat input.
	ErrEmptyMessage = errors.New("session: empty message")

	// ErrNoSession is returned by operations that need a live session.
	ErrNoSession = errors.New("session: no active session")
)

// Link is the transport side of a session. *manager.Manager implements
// it.
type Link interface {
	Start(ctx context.Context, room sessioncode.RoomIdentity, role transport.Role) error
	Events() <-chan manager.Event
	Send(frame []byte) error
	Stop()
}

// Compile-time interface check.
var _ Link = (*manager.Manager)(nil)

// Options configures a Controller.
type Options struct {
	Username string

	// NewLink creates the link for each new session. Required.
	NewLink func() Link

	Clock  clock.Clock
	Logger *slog.Logger

	// ReceiptWindow defaults to DefaultReceiptWindow.
	ReceiptWindow int

	// Codec defaults to wire.JSON.
	Codec wire.Codec

	// ShareBaseURL, when set, is used to build Snapshot.ShareURL.
	ShareBaseURL string

	// Generate creates host codes. Nil means sessioncode.Generate.
	Generate func() (sessioncode.Code, error)
}

// Controller is the session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	username      string
	newLink       func() Link
	clock         clock.Clock
	logger        *slog.Logger
	receiptWindow int
	codec         wire.Codec
	shareBaseURL  string
	generate      func() (sessioncode.Code, error)

	changes chan struct{}

	// lifecycle serializes session start and teardown.
	lifecycle sync.Mutex

	mu         sync.Mutex
	generation uint64
	current    *Context
	link       Link
	dispatched chan struct{}

	state        State
	backend      transport.Kind
	status       string
	err          error
	messages     []Message
	peerName     string
	remoteTyping bool
	typingTimer  *clock.Timer
	typingSentAt time.Time
	typingSent   bool
	foreground   bool
	recent       []string

	// typingDeadline is when the remote typing flag expires.
	typingDeadline time.Time
}

// New creates an offline Controller.
func New(options Options) *Controller {
	controller := &Controller{
		username:      options.Username,
		newLink:       options.NewLink,
		clock:         options.Clock,
		logger:        options.Logger,
		receiptWindow: options.ReceiptWindow,
		codec:         options.Codec,
		shareBaseURL:  options.ShareBaseURL,
		generate:      options.Generate,
		changes:       make(chan struct{}, 1),
		foreground:    true,
		status:        "Offline",
	}
	if controller.username == "" {
		controller.username = "Anonymous"
	}
	if controller.clock == nil {
		controller.clock = clock.Real()
	}
	if controller.logger == nil {
		controller.logger = slog.New(slog.DiscardHandler)
	}
	if controller.receiptWindow <= 0 {
		controller.receiptWindow = DefaultReceiptWindow
	}
	if controller.codec == nil {
		controller.codec = wire.JSON
	}
	if controller.generate == nil {
		controller.generate = sessioncode.Generate
	}
	return controller
}

// Changes delivers a value after state changes. Notifications coalesce:
// a receiver should read Snapshot after each one.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

// Snapshot copies the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := Snapshot{
		State:        c.state,
		Username:     c.username,
		PeerName:     c.peerName,
		Backend:      c.backend,
		Status:       c.status,
		RemoteTyping: c.remoteTyping,
		Foreground:   c.foreground,
		Messages:     append([]Message(nil), c.messages...),
		Err:          c.err,
	}
	if c.current != nil {
		snapshot.Role = c.current.Role
		snapshot.Code = c.current.Identity.Code
		if c.shareBaseURL != "" && c.current.Role == transport.RoleHost {
			if link, err := sessioncode.ShareURL(c.shareBaseURL, c.current.Identity.Code); err == nil {
				snapshot.ShareURL = link
			}
		}
	}
	return snapshot
}

// CreateSession starts hosting a new room and returns its code. A live
// session is left first.
func (c *Controller) CreateSession(ctx context.Context) (sessioncode.Code, error) {
	code, err := c.generate()
	if err != nil {
		return "", fmt.Errorf("generating session code: %w", err)
	}
	if err := c.start(ctx, string(code), transport.RoleHost); err != nil {
		return "", err
	}
	return code, nil
}

// JoinSession joins the room named by input, which may be a bare code or
// a share link. A live session is left first.
func (c *Controller) JoinSession(ctx context.Context, input string) error {
	return c.start(ctx, input, transport.RoleGuest)
}

func (c *Controller) start(ctx context.Context, input string, role transport.Role) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.teardown("")

	c.mu.Lock()
	c.resetLocked()
	c.state = StateInitializing
	c.status = "Preparing session"
	c.mu.Unlock()
	c.notify()

	identity, err := sessioncode.Parse(input)
	if err != nil {
		return c.fail(fmt.Errorf("parsing session code: %w", err))
	}
	key, err := roomcrypt.DeriveKey(identity.KeySeed)
	if err != nil {
		return c.fail(fmt.Errorf("deriving room key: %w", err))
	}
	if c.newLink == nil {
		key.Close()
		return c.fail(errors.New("session: no link factory configured"))
	}
	link := c.newLink()

	c.mu.Lock()
	c.generation++
	sc := &Context{
		Identity:   identity,
		Key:        key,
		Username:   c.username,
		Role:       role,
		Generation: c.generation,
	}
	c.current = sc
	c.link = link
	c.dispatched = make(chan struct{})
	dispatched := c.dispatched
	c.mu.Unlock()

	if err := link.Start(ctx, identity, role); err != nil {
		c.mu.Lock()
		c.current, c.link, c.dispatched = nil, nil, nil
		c.mu.Unlock()
		link.Stop()
		key.Close()
		return c.fail(fmt.Errorf("starting transport: %w", err))
	}
	go c.dispatch(sc, link, dispatched)

	c.mu.Lock()
	if role == transport.RoleGuest {
		c.state = StateConnecting
		c.status = "Connecting to host"
	} else {
		c.status = "Opening room"
	}
	c.mu.Unlock()
	c.notify()

	c.logger.Info("session started", "role", role, "room", identity.RoomID, "generation", sc.Generation)
	return nil
}

// fail moves an initializing controller to Errored.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state = StateErrored
	c.err = err
	c.status = err.Error()
	c.mu.Unlock()
	c.notify()
	c.logger.Warn("session failed to start", "error", err)
	return err
}

func (c *Controller) resetLocked() {
	c.err = nil
	c.messages = nil
	c.peerName = ""
	c.backend = ""
	c.remoteTyping = false
	c.typingSent = false
	c.recent = nil
}

// Leave ends the live session: a LEAVE frame is sent best-effort, timers
// are stopped, the link is stopped and the key is wiped. It is a no-op
// when offline.
func (c *Controller) Leave() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.teardown("Left the session")
}

func (c *Controller) teardown(status string) {
	c.mu.Lock()
	sc, link, dispatched := c.current, c.link, c.dispatched
	if sc == nil {
		if status != "" && c.state != StateOffline {
			c.state = StateOffline
			c.status = status
			c.mu.Unlock()
			c.notify()
			return
		}
		c.mu.Unlock()
		return
	}
	if frame, err := c.codec.Encode(wire.Frame{Type: wire.TypeLeave, Sender: sc.Username}); err == nil {
		if err := link.Send(frame); err != nil {
			c.logger.Debug("leave frame not sent", "error", err)
		}
	}
	c.current, c.link, c.dispatched = nil, nil, nil
	c.stopTypingTimerLocked()
	c.remoteTyping = false
	c.state = StateOffline
	if status != "" {
		c.status = status
	}
	c.mu.Unlock()

	link.Stop()
	<-dispatched
	sc.Key.Close()
	c.logger.Info("session left", "room", sc.Identity.RoomID, "generation", sc.Generation)
	c.notify()
}

// SendChatMessage encrypts text and sends it as a CHAT frame. The local
// log shows it immediately; a send failure adds a system entry instead
// of dropping it.
func (c *Controller) SendChatMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.notify()
	defer c.mu.Unlock()

	sc := c.current
	if sc == nil {
		return ErrNoSession
	}
	id := uuid.NewString()
	c.messages = append(c.messages, Message{
		ID:        id,
		Sender:    sc.Username,
		Content:   text,
		Timestamp: c.clock.Now(),
		Outgoing:  true,
		Status:    DeliverySent,
	})

	if err := c.sendEncryptedLocked(sc, wire.TypeChat, text, id); err != nil {
		c.logger.Warn("chat message not delivered", "message_id", id, "error", err)
		c.appendSystemLocked(fmt.Sprintf("Message could not be delivered: %v", err))
	}
	c.typingSent = false
	return nil
}

// OnTypingInput reports local keystrokes. At most one TYPING frame goes
// out per TypingThrottle.
func (c *Controller) OnTypingInput() {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc := c.current
	if sc == nil || c.state != StateConnected {
		return
	}
	now := c.clock.Now()
	if c.typingSent && now.Sub(c.typingSentAt) < TypingThrottle {
		return
	}
	c.typingSent = true
	c.typingSentAt = now
	if err := c.sendPlainLocked(wire.Frame{Type: wire.TypeTyping, Sender: sc.Username}); err != nil {
		c.logger.Debug("typing frame not sent", "error", err)
	}
}

// SetForeground records whether the chat is visible. Coming back to the
// foreground re-sends read receipts for the recent inbound messages.
func (c *Controller) SetForeground(foreground bool) {
	c.mu.Lock()
	defer c.notify()
	defer c.mu.Unlock()

	wasForeground := c.foreground
	c.foreground = foreground
	if !foreground || wasForeground || c.current == nil {
		return
	}
	for _, id := range c.recent {
		c.sendReceiptLocked(c.current, id)
	}
}

func (c *Controller) sendEncryptedLocked(sc *Context, messageType wire.MessageType, text, id string) error {
	payload, err := roomcrypt.Encrypt([]byte(text), sc.Key)
	if err != nil {
		return err
	}
	return c.sendPlainLocked(wire.Frame{
		Type:      messageType,
		Payload:   &payload,
		Sender:    sc.Username,
		MessageID: id,
	})
}

func (c *Controller) sendPlainLocked(frame wire.Frame) error {
	if c.link == nil {
		return ErrNoSession
	}
	data, err := c.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame.Type, err)
	}
	return c.link.Send(data)
}

func (c *Controller) sendReceiptLocked(sc *Context, id string) {
	err := c.sendPlainLocked(wire.Frame{Type: wire.TypeReadReceipt, Sender: sc.Username, MessageID: id})
	if err != nil {
		c.logger.Debug("read receipt not sent", "message_id", id, "error", err)
	}
}

func (c *Controller) appendSystemLocked(text string) {
	c.messages = append(c.messages, Message{
		ID:        uuid.NewString(),
		Sender:    "System",
		Content:   text,
		Timestamp: c.clock.Now(),
		System:    true,
	})
}

func (c *Controller) stopTypingTimerLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}
