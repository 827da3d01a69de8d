// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/davidryuky/Retro-Chat-95/lib/roomcrypt"
	"github.com/davidryuky/Retro-Chat-95/lib/wire"
	"github.com/davidryuky/Retro-Chat-95/transport"
	"github.com/davidryuky/Retro-Chat-95/transport/manager"
)

// dispatch consumes link events for sc until the link closes its event
// channel.
func (c *Controller) dispatch(sc *Context, link Link, done chan<- struct{}) {
	defer close(done)
	for event := range link.Events() {
		c.handle(sc, event)
	}
}

// handle applies one link event. Events for a session that is no longer
// current are dropped.
func (c *Controller) handle(sc *Context, event manager.Event) {
	c.mu.Lock()
	if c.current != sc {
		c.mu.Unlock()
		return
	}
	changed := c.handleLocked(sc, event)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) handleLocked(sc *Context, event manager.Event) bool {
	switch event.Status {
	case manager.StatusTrying:
		c.status = fmt.Sprintf("Connecting via %s", event.Endpoint.URL)
		return true
	case manager.StatusFailover:
		c.status = fmt.Sprintf("Server unreachable, trying %s", event.Endpoint.URL)
		return true
	case manager.StatusBackoff:
		c.status = fmt.Sprintf("No server reachable, retrying in %s", event.Delay)
		return true
	case manager.StatusLinkUp:
		c.linkUpLocked(sc, event)
		return true
	case manager.StatusLinkLost:
		c.state = StateReconnecting
		c.status = "Connection lost, reconnecting"
		c.remoteTyping = false
		c.stopTypingTimerLocked()
		return true
	}

	switch event.Transport.Kind {
	case transport.EventPeerJoin:
		if sc.Role == transport.RoleHost && c.state == StateWaitingForPeer {
			c.state = StateConnected
			c.status = "Peer connected"
			return true
		}
		return false
	case transport.EventPeerLeave:
		c.remoteTyping = false
		c.stopTypingTimerLocked()
		if sc.Role == transport.RoleHost && c.state == StateConnected {
			c.state = StateWaitingForPeer
			c.status = "Waiting for peer"
		} else {
			c.status = "Peer left the room"
		}
		return true
	case transport.EventMessage:
		return c.receiveLocked(sc, event.Transport.Frame)
	case transport.EventError:
		c.logger.Warn("transport error", "kind", event.Transport.ErrorKind, "error", event.Transport.Err)
		c.status = fmt.Sprintf("Connection problem: %v", event.Transport.Err)
		return true
	}
	return false
}

// linkUpLocked moves the session forward once the transport opens. A
// guest announces itself on every link up, including reconnects.
func (c *Controller) linkUpLocked(sc *Context, event manager.Event) {
	c.backend = event.Kind
	if sc.Role == transport.RoleGuest {
		c.state = StateConnected
		c.status = "Connected"
		if err := c.sendEncryptedLocked(sc, wire.TypeSystem, PeerJoinedControl, uuid.NewString()); err != nil {
			c.logger.Warn("presence announcement not sent", "error", err)
		}
		return
	}
	if c.state == StateReconnecting {
		c.state = StateConnected
		c.status = "Reconnected"
		return
	}
	c.state = StateWaitingForPeer
	c.status = "Waiting for peer"
}

// receiveLocked dispatches one inbound frame.
func (c *Controller) receiveLocked(sc *Context, data []byte) bool {
	frame, err := c.codec.Decode(data)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownType) {
			c.logger.Debug("ignoring frame of unknown type", "error", err)
		} else {
			c.logger.Debug("ignoring malformed frame", "error", err)
		}
		return false
	}

	switch frame.Type {
	case wire.TypeChat:
		text, err := roomcrypt.Decrypt(*frame.Payload, sc.Key)
		if err != nil {
			c.logger.Warn("chat message failed to decrypt", "sender", frame.Sender, "error", err)
			c.appendSystemLocked(UndecryptableText)
			return true
		}
		id := frame.MessageID
		if id == "" {
			id = uuid.NewString()
		}
		c.messages = append(c.messages, Message{
			ID:        id,
			Sender:    frame.Sender,
			Content:   string(text),
			Timestamp: c.clock.Now(),
		})
		c.remoteTyping = false
		c.stopTypingTimerLocked()
		c.peerPresentLocked(sc, frame.Sender)
		if frame.MessageID != "" {
			c.rememberLocked(frame.MessageID)
			if c.foreground {
				c.sendReceiptLocked(sc, frame.MessageID)
			}
		}
		return true

	case wire.TypeSystem:
		text, err := roomcrypt.Decrypt(*frame.Payload, sc.Key)
		if err != nil {
			c.logger.Warn("system message failed to decrypt", "sender", frame.Sender, "error", err)
			c.appendSystemLocked(UndecryptableText)
			return true
		}
		if string(text) == PeerJoinedControl {
			c.peerJoinedLocked(sc, frame.Sender)
			return true
		}
		c.appendSystemLocked(string(text))
		return true

	case wire.TypeJoin:
		c.peerJoinedLocked(sc, frame.Sender)
		return true

	case wire.TypeLeave:
		c.appendSystemLocked(fmt.Sprintf("%s left", displayName(frame.Sender)))
		c.remoteTyping = false
		c.stopTypingTimerLocked()
		if sc.Role == transport.RoleHost && c.state == StateConnected {
			c.state = StateWaitingForPeer
			c.status = "Waiting for peer"
		}
		return true

	case wire.TypeTyping:
		c.remoteTyping = true
		c.armTypingTimerLocked(sc)
		return true

	case wire.TypeReadReceipt:
		for index := range c.messages {
			message := &c.messages[index]
			if message.Outgoing && message.ID == frame.MessageID {
				if message.Status == DeliveryRead {
					return false
				}
				message.Status = DeliveryRead
				return true
			}
		}
		c.logger.Debug("read receipt for unknown message", "message_id", frame.MessageID)
		return false
	}
	return false
}

func (c *Controller) peerJoinedLocked(sc *Context, sender string) {
	c.peerName = sender
	c.appendSystemLocked(fmt.Sprintf("%s joined", displayName(sender)))
	if sc.Role == transport.RoleHost && c.state != StateConnected {
		c.state = StateConnected
		c.status = "Peer connected"
	}
}

// peerPresentLocked treats a decrypted chat message as proof that the
// guest is in the room when its presence announcement was missed.
func (c *Controller) peerPresentLocked(sc *Context, sender string) {
	if sc.Role != transport.RoleHost || c.state != StateWaitingForPeer {
		return
	}
	if c.peerName == "" {
		c.peerName = sender
	}
	c.state = StateConnected
	c.status = "Peer connected"
}

// armTypingTimerLocked starts or re-arms the remote typing expiry.
func (c *Controller) armTypingTimerLocked(sc *Context) {
	c.typingDeadline = c.clock.Now().Add(TypingExpiry)
	if c.typingTimer != nil {
		c.typingTimer.Reset(TypingExpiry)
		return
	}
	c.typingTimer = c.clock.AfterFunc(TypingExpiry, func() {
		c.mu.Lock()
		if c.current != sc || !c.remoteTyping || c.clock.Now().Before(c.typingDeadline) {
			c.mu.Unlock()
			return
		}
		c.remoteTyping = false
		c.typingTimer = nil
		c.mu.Unlock()
		c.notify()
	})
}

// rememberLocked keeps the last receiptWindow inbound message ids.
func (c *Controller) rememberLocked(id string) {
	c.recent = append(c.recent, id)
	if overflow := len(c.recent) - c.receiptWindow; overflow > 0 {
		c.recent = append(c.recent[:0], c.recent[overflow:]...)
	}
}

func displayName(sender string) string {
	if sender == "" {
		return "Peer"
	}
	return sender
}
