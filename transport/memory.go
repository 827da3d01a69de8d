// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Adapter = (*MemoryAdapter)(nil)

// MemoryHub is an in-process rendezvous for tests. Adapters that share a
// hub, an endpoint URL and a room reach each other like peers on a
// reliable, ordered relay. Endpoints can be told to refuse or stall
// connects and to drop their links, which is how failover and
// reconnect behavior is exercised without a network.
type MemoryHub struct {
	mu       sync.Mutex
	rooms    map[string]map[*MemoryAdapter]struct{}
	behavior map[string]endpointBehavior
	attempts map[string]int
}

type endpointBehavior struct {
	refuse error
	stall  bool
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		rooms:    make(map[string]map[*MemoryAdapter]struct{}),
		behavior: make(map[string]endpointBehavior),
		attempts: make(map[string]int),
	}
}

// Refuse makes every later Connect to url fail with err.
func (h *MemoryHub) Refuse(url string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.behavior[url] = endpointBehavior{refuse: err}
}

// Stall makes every later Connect to url succeed without ever opening.
func (h *MemoryHub) Stall(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.behavior[url] = endpointBehavior{stall: true}
}

// Restore returns url to normal behavior.
func (h *MemoryHub) Restore(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.behavior, url)
}

// Attempts returns how many times Connect was called against url.
func (h *MemoryHub) Attempts(url string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[url]
}

// Members returns how many adapters are joined to room on url.
func (h *MemoryHub) Members(url, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomKey(url, room)])
}

// Drop simulates the endpoint going away: every adapter joined through
// url reports a runtime error and closes.
func (h *MemoryHub) Drop(url string) {
	h.mu.Lock()
	var dropped []*MemoryAdapter
	for key, members := range h.rooms {
		for member := range members {
			if member.endpoint.URL == url {
				dropped = append(dropped, member)
				delete(members, member)
			}
		}
		if len(members) == 0 {
			delete(h.rooms, key)
		}
	}
	h.mu.Unlock()

	for _, member := range dropped {
		member.lose(fmt.Errorf("memory endpoint %s dropped", url))
	}
}

// Factory returns a transport.Factory producing adapters on this hub.
func (h *MemoryHub) Factory() Factory {
	return func(endpoint Endpoint) (Adapter, error) {
		return h.NewAdapter(endpoint), nil
	}
}

// NewAdapter creates an adapter bound to endpoint.
func (h *MemoryHub) NewAdapter(endpoint Endpoint) *MemoryAdapter {
	return &MemoryAdapter{
		hub:      h,
		endpoint: endpoint,
		peerID:   uuid.NewString(),
		emitter:  NewEmitter(),
	}
}

// join adds adapter to room and returns the members already there.
func (h *MemoryHub) join(adapter *MemoryAdapter, room string) ([]*MemoryAdapter, endpointBehavior) {
	h.mu.Lock()
	defer h.mu.Unlock()

	url := adapter.endpoint.URL
	h.attempts[url]++
	behavior := h.behavior[url]
	if behavior.refuse != nil || behavior.stall {
		return nil, behavior
	}

	key := roomKey(url, room)
	members := h.rooms[key]
	if members == nil {
		members = make(map[*MemoryAdapter]struct{})
		h.rooms[key] = members
	}
	var existing []*MemoryAdapter
	for member := range members {
		existing = append(existing, member)
	}
	members[adapter] = struct{}{}
	return existing, behavior
}

// part removes adapter from room and returns the remaining members.
func (h *MemoryHub) part(adapter *MemoryAdapter, room string) []*MemoryAdapter {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := roomKey(adapter.endpoint.URL, room)
	members := h.rooms[key]
	if _, ok := members[adapter]; !ok {
		return nil
	}
	delete(members, adapter)
	if len(members) == 0 {
		delete(h.rooms, key)
	}
	var remaining []*MemoryAdapter
	for member := range members {
		remaining = append(remaining, member)
	}
	return remaining
}

// peers returns the other members of adapter's room.
func (h *MemoryHub) peers(adapter *MemoryAdapter, room string) ([]*MemoryAdapter, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[roomKey(adapter.endpoint.URL, room)]
	if _, ok := members[adapter]; !ok {
		return nil, false
	}
	var others []*MemoryAdapter
	for member := range members {
		if member != adapter {
			others = append(others, member)
		}
	}
	return others, true
}

func roomKey(url, room string) string {
	return url + "|" + room
}

// MemoryAdapter is the Adapter handed out by MemoryHub.
type MemoryAdapter struct {
	hub      *MemoryHub
	endpoint Endpoint
	peerID   string
	emitter  *Emitter

	mu     sync.Mutex
	room   string
	joined bool
	left   bool
}

func (a *MemoryAdapter) Kind() Kind { return KindMemory }

func (a *MemoryAdapter) Events() <-chan Event { return a.emitter.Events() }

// Connect joins the room named by target. Refused endpoints report a
// connect error event; stalled endpoints never report anything.
func (a *MemoryAdapter) Connect(ctx context.Context, target Target) error {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return ErrClosed
	}
	previous, wasJoined := a.room, a.joined
	a.joined = false
	a.mu.Unlock()

	if wasJoined {
		a.announceDeparture(previous)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	room := target.Room.RoomID
	existing, behavior := a.hub.join(a, room)
	if behavior.refuse != nil {
		a.emitter.Emit(Failure(ErrorKindConnect, behavior.refuse))
		return nil
	}
	if behavior.stall {
		return nil
	}

	a.mu.Lock()
	a.room = room
	a.joined = true
	a.mu.Unlock()

	a.emitter.Emit(Open())
	for _, member := range existing {
		member.emitter.Emit(PeerJoined(a.peerID))
		a.emitter.Emit(PeerJoined(member.peerID))
	}
	return nil
}

// Send delivers frame to every other member of the room.
func (a *MemoryAdapter) Send(frame []byte) error {
	a.mu.Lock()
	room, joined, left := a.room, a.joined, a.left
	a.mu.Unlock()

	if left {
		return ErrClosed
	}
	if !joined {
		return ErrNotConnected
	}
	others, ok := a.hub.peers(a, room)
	if !ok {
		return ErrNotConnected
	}
	copied := append([]byte(nil), frame...)
	for _, member := range others {
		member.emitter.Emit(Message(copied))
	}
	return nil
}

// Leave parts the room and closes the event channel.
func (a *MemoryAdapter) Leave() error {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return nil
	}
	a.left = true
	room, joined := a.room, a.joined
	a.joined = false
	a.mu.Unlock()

	if joined {
		a.announceDeparture(room)
	}
	a.emitter.Close()
	return nil
}

func (a *MemoryAdapter) announceDeparture(room string) {
	for _, member := range a.hub.part(a, room) {
		member.emitter.Emit(PeerLeft(a.peerID))
	}
}

// lose is called by MemoryHub.Drop after the adapter was removed from
// its room.
func (a *MemoryAdapter) lose(err error) {
	a.mu.Lock()
	if a.left || !a.joined {
		a.mu.Unlock()
		return
	}
	a.joined = false
	a.mu.Unlock()

	a.emitter.Emit(Failure(ErrorKindRuntime, err))
	a.emitter.Emit(Closed())
}
