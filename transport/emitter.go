// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "sync"

// eventBuffer is the depth of every adapter's event channel.
const eventBuffer = 64

// Emitter owns an adapter's event channel. Emit blocks while the buffer
// is full so frames are never dropped, and unblocks when Close is
// called. Close waits for in-flight emits and then closes the channel,
// so receivers see every event emitted before Close.
type Emitter struct {
	events chan Event
	done   chan struct{}

	closeOnce sync.Once

	// mu is held for reading by Emit and for writing by Close.
	mu     sync.RWMutex
	closed bool
}

// NewEmitter returns an open Emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the receive side.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Emit delivers event. It reports false if the emitter was closed
// before the event could be delivered.
func (e *Emitter) Emit(event Event) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.events <- event:
		return true
	case <-e.done:
		return false
	}
}

// Done is closed when Close starts.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// Close stops delivery and closes the event channel. It is idempotent.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.mu.Lock()
		e.closed = true
		close(e.events)
		e.mu.Unlock()
	})
}
