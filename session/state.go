// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"time"

	"github.com/davidryuky/Retro-Chat-95/lib/roomcrypt"
	"github.com/davidryuky/Retro-Chat-95/sessioncode"
	"github.com/davidryuky/Retro-Chat-95/transport"
)

// State is the controller's connection state.
type State int

const (
	StateOffline State = iota
	StateInitializing
	StateWaitingForPeer
	StateConnecting
	StateConnected
	StateReconnecting
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateInitializing:
		return "initializing"
	case StateWaitingForPeer:
		return "waiting-for-peer"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether s has a running link.
func (s State) Live() bool {
	switch s {
	case StateInitializing, StateWaitingForPeer, StateConnecting, StateConnected, StateReconnecting:
		return true
	}
	return false
}

// DeliveryStatus tracks a locally sent message.
type DeliveryStatus int

const (
	DeliveryNone DeliveryStatus = iota
	DeliverySent
	DeliveryRead
)

func (d DeliveryStatus) String() string {
	switch d {
	case DeliveryNone:
		return "none"
	case DeliverySent:
		return "sent"
	case DeliveryRead:
		return "read"
	default:
		return fmt.Sprintf("delivery(%d)", int(d))
	}
}

// Message is one entry in the session log. Entries are only appended;
// the one mutation is an outgoing message going from sent to read.
type Message struct {
	ID        string
	Sender    string
	Content   string
	Timestamp time.Time
	System    bool
	Outgoing  bool
	Status    DeliveryStatus
}

// Context is fixed when a session starts and passed to every handler
// for that session.
type Context struct {
	Identity   sessioncode.RoomIdentity
	Key        *roomcrypt.Key
	Username   string
	Role       transport.Role
	Generation uint64
}

// Snapshot is a copy of the controller's observable state.
type Snapshot struct {
	State        State
	Role         transport.Role
	Code         sessioncode.Code
	ShareURL     string
	Username     string
	PeerName     string
	Backend      transport.Kind
	Status       string
	RemoteTyping bool
	Foreground   bool
	Messages     []Message
	Err          error
}
