// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidryuky/Retro-Chat-95/sessioncode"
)

// ErrClosed is returned by Connect and Send after Leave.
var ErrClosed = errors.New("transport: adapter closed")

// ErrNotConnected is returned by Send before the adapter is open.
var ErrNotConnected = errors.New("transport: not connected")

// Adapter is one backend's connection to a room. Implementations are
// safe for concurrent use.
type Adapter interface {
	// Kind names the backend.
	Kind() Kind

	// Connect starts joining target's room. It returns once the attempt
	// is under way; EventOpen reports readiness and EventError with
	// ErrorKindConnect reports failure. Calling Connect again tears
	// down the previous link first.
	Connect(ctx context.Context, target Target) error

	// Send queues one encoded frame for the peer. It never blocks on
	// the network; asynchronous failures arrive as EventError.
	Send(frame []byte) error

	// Events delivers the adapter's events in order. The channel is
	// closed after Leave returns.
	Events() <-chan Event

	// Leave releases every backend resource. It is idempotent.
	Leave() error
}

// Factory creates an adapter bound to one candidate endpoint.
type Factory func(endpoint Endpoint) (Adapter, error)

// Kind identifies a backend family.
type Kind string

const (
	KindRelay     Kind = "relay"
	KindSignaling Kind = "signaling"
	KindMesh      Kind = "mesh"
	KindMemory    Kind = "memory"
)

// Role is the side of the session a client plays.
type Role int

const (
	// RoleHost created the code and waits for the guest.
	RoleHost Role = iota + 1
	// RoleGuest parsed the code and dials the host.
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Endpoint is one candidate the manager can try.
type Endpoint struct {
	// URL is the broker, signaling server or tracker address.
	URL string

	// ICE is used by the WebRTC backends.
	ICE ICEConfig
}

func (e Endpoint) String() string { return e.URL }

// Target is everything an adapter needs to join a room.
type Target struct {
	Room     sessioncode.RoomIdentity
	Role     Role
	Endpoint Endpoint
}

// EventKind discriminates Event.
type EventKind int

const (
	// EventOpen means the adapter is ready: subscribed to the relay
	// topic, registered with the signaling server, announced to the
	// tracker, or (guest data channel backends) linked to the host.
	EventOpen EventKind = iota + 1
	// EventPeerJoin means a remote peer's link opened.
	EventPeerJoin
	// EventPeerLeave means the remote peer's link closed while the
	// adapter itself stays usable.
	EventPeerLeave
	// EventMessage carries one inbound frame.
	EventMessage
	// EventError carries a connect or runtime failure.
	EventError
	// EventClose means the adapter is no longer usable.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventPeerJoin:
		return "peer-join"
	case EventPeerLeave:
		return "peer-leave"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ErrorKind classifies EventError.
type ErrorKind int

const (
	// ErrorKindConnect is a failure to reach or join the endpoint. The
	// manager fails over to the next candidate.
	ErrorKindConnect ErrorKind = iota + 1
	// ErrorKindRuntime is a failure on an established link.
	ErrorKindRuntime
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnect:
		return "connect"
	case ErrorKindRuntime:
		return "runtime"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Event is one notification from an adapter.
type Event struct {
	Kind EventKind

	// Frame is set for EventMessage.
	Frame []byte

	// Peer identifies the remote side where the backend knows it.
	Peer string

	// Err and ErrorKind are set for EventError.
	Err       error
	ErrorKind ErrorKind
}

// Open returns an EventOpen.
func Open() Event { return Event{Kind: EventOpen} }

// PeerJoined returns an EventPeerJoin for peer.
func PeerJoined(peer string) Event { return Event{Kind: EventPeerJoin, Peer: peer} }

// PeerLeft returns an EventPeerLeave for peer.
func PeerLeft(peer string) Event { return Event{Kind: EventPeerLeave, Peer: peer} }

// Message returns an EventMessage carrying frame.
func Message(frame []byte) Event { return Event{Kind: EventMessage, Frame: frame} }

// Failure returns an EventError.
func Failure(kind ErrorKind, err error) Event {
	return Event{Kind: EventError, Err: err, ErrorKind: kind}
}

// Closed returns an EventClose.
func Closed() Event { return Event{Kind: EventClose} }
