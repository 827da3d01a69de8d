// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
	"github.com/davidryuky/Retro-Chat-95/sessioncode"
	"github.com/davidryuky/Retro-Chat-95/transport"
)

// Defaults for the zero Options fields.
const (
	DefaultConnectTimeout = 6 * time.Second
	DefaultReconnectDelay = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// eventBuffer is the depth of the manager's event channel.
const eventBuffer = 64

var (
	// ErrNoLink is returned by Send while no adapter is open.
	ErrNoLink = errors.New("manager: no open link")

	// ErrNoCandidates is returned by Start when Options.Candidates is
	// empty.
	ErrNoCandidates = errors.New("manager: no candidate endpoints")

	// ErrConnectTimeout is the failure recorded when a candidate does not
	// open within the connect timeout.
	ErrConnectTimeout = errors.New("manager: connect timed out")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("manager: already started")

	errClosedBeforeOpen = errors.New("adapter closed before opening")
)

// Status classifies manager-originated events.
type Status int

const (
	// StatusNone marks an event forwarded from the active adapter.
	StatusNone Status = iota

	// StatusTrying: a connect to Event.Candidate is starting.
	StatusTrying

	// StatusFailover: the previous candidate failed with Event.Err and
	// Event.Candidate is next.
	StatusFailover

	// StatusLinkUp: the adapter for Event.Candidate reported EventOpen.
	StatusLinkUp

	// StatusLinkLost: the open link closed unexpectedly.
	StatusLinkLost

	// StatusBackoff: every candidate failed; the manager waits
	// Event.Delay before the next pass.
	StatusBackoff
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusTrying:
		return "trying"
	case StatusFailover:
		return "failover"
	case StatusLinkUp:
		return "link-up"
	case StatusLinkLost:
		return "link-lost"
	case StatusBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Event is delivered on Manager.Events. Status events carry Candidate,
// Endpoint and, where relevant, Err or Delay. Forwarded adapter events
// have Status == StatusNone and the adapter's event in Transport.
type Event struct {
	Status    Status
	Transport transport.Event

	Candidate int
	Endpoint  transport.Endpoint
	Kind      transport.Kind
	Err       error
	Delay     time.Duration
}

// Options configures a Manager.
type Options struct {
	// Factory creates one adapter per connect attempt. Required.
	Factory transport.Factory

	// Candidates are tried in order, wrapping around. Required.
	Candidates []transport.Endpoint

	Clock  clock.Clock
	Logger *slog.Logger

	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	MaxBackoff     time.Duration
}

// Manager runs the connect/failover/reconnect cycle for one session.
type Manager struct {
	factory        transport.Factory
	candidates     []transport.Endpoint
	clock          clock.Clock
	logger         *slog.Logger
	connectTimeout time.Duration
	reconnectDelay time.Duration
	maxBackoff     time.Duration

	events    chan Event
	closeOnce sync.Once

	mu      sync.Mutex
	active  transport.Adapter
	open    bool
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Manager. Nothing happens until Start.
func New(options Options) *Manager {
	manager := &Manager{
		factory:        options.Factory,
		candidates:     append([]transport.Endpoint(nil), options.Candidates...),
		clock:          options.Clock,
		logger:         options.Logger,
		connectTimeout: options.ConnectTimeout,
		reconnectDelay: options.ReconnectDelay,
		maxBackoff:     options.MaxBackoff,
		events:         make(chan Event, eventBuffer),
	}
	if manager.clock == nil {
		manager.clock = clock.Real()
	}
	if manager.logger == nil {
		manager.logger = slog.New(slog.DiscardHandler)
	}
	if manager.connectTimeout <= 0 {
		manager.connectTimeout = DefaultConnectTimeout
	}
	if manager.reconnectDelay <= 0 {
		manager.reconnectDelay = DefaultReconnectDelay
	}
	if manager.maxBackoff <= 0 {
		manager.maxBackoff = DefaultMaxBackoff
	}
	if manager.maxBackoff < manager.reconnectDelay {
		manager.maxBackoff = manager.reconnectDelay
	}
	return manager
}

// Events returns the manager's event stream. It is closed after Stop.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start begins cycling through candidates for room in role. It returns
// immediately; progress is reported on Events.
func (m *Manager) Start(ctx context.Context, room sessioncode.RoomIdentity, role transport.Role) error {
	if m.factory == nil {
		return errors.New("manager: nil Factory")
	}
	if len(m.candidates) == 0 {
		return ErrNoCandidates
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return transport.ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	runContext, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runContext, room, role)
	return nil
}

// Send forwards frame to the open adapter.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	active, open := m.active, m.open
	m.mu.Unlock()
	if active == nil || !open {
		return ErrNoLink
	}
	return active.Send(frame)
}

// Connected reports whether an adapter is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.open
}

// Stop cancels cycling, leaves the live adapter and waits for the
// cycling goroutine to exit. It is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		m.closeOnce.Do(func() { close(m.events) })
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, room sessioncode.RoomIdentity, role transport.Role) {
	defer close(m.done)
	defer m.closeOnce.Do(func() { close(m.events) })
	defer m.release()

	target := transport.Target{Room: room, Role: role}
	index := 0
	failures := 0
	backoff := m.reconnectDelay

	for {
		endpoint := m.candidates[index]
		target.Endpoint = endpoint
		m.logger.Info("trying candidate", "candidate", index, "url", endpoint.URL, "role", role)
		if !m.emit(ctx, Event{Status: StatusTrying, Candidate: index, Endpoint: endpoint}) {
			return
		}

		adapter, early, err := m.attempt(ctx, target)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Warn("candidate failed", "candidate", index, "url", endpoint.URL, "error", err)
			failures++
			if failures >= len(m.candidates) {
				failures = 0
				m.logger.Info("all candidates failed, backing off", "delay", backoff)
				if !m.emit(ctx, Event{Status: StatusBackoff, Candidate: index, Endpoint: endpoint, Err: err, Delay: backoff}) {
					return
				}
				if !m.sleep(ctx, backoff) {
					return
				}
				backoff *= 2
				if backoff > m.maxBackoff {
					backoff = m.maxBackoff
				}
			}
			index = (index + 1) % len(m.candidates)
			if !m.emit(ctx, Event{Status: StatusFailover, Candidate: index, Endpoint: m.candidates[index], Err: err}) {
				return
			}
			continue
		}

		failures = 0
		backoff = m.reconnectDelay
		m.logger.Info("link up", "candidate", index, "url", endpoint.URL, "backend", adapter.Kind())
		if !m.emit(ctx, Event{Status: StatusLinkUp, Candidate: index, Endpoint: endpoint, Kind: adapter.Kind()}) {
			return
		}
		for _, event := range early {
			if !m.emit(ctx, Event{Transport: event, Candidate: index, Endpoint: endpoint, Kind: adapter.Kind()}) {
				return
			}
		}

		ok, lost := m.pump(ctx, adapter, index, endpoint)
		if !ok {
			return
		}
		m.release()
		m.logger.Warn("link lost", "candidate", index, "url", endpoint.URL, "error", lost)
		if !m.emit(ctx, Event{Status: StatusLinkLost, Candidate: index, Endpoint: endpoint, Err: lost}) {
			return
		}
		if !m.sleep(ctx, m.reconnectDelay) {
			return
		}
	}
}

// attempt creates and connects one adapter and waits for EventOpen.
// Events other than Open/Error/Close seen before Open are returned so
// they can be forwarded once the link is announced.
func (m *Manager) attempt(ctx context.Context, target transport.Target) (transport.Adapter, []transport.Event, error) {
	adapter, err := m.factory(target.Endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("creating adapter: %w", err)
	}
	m.mu.Lock()
	m.active = adapter
	m.open = false
	m.mu.Unlock()

	if err := adapter.Connect(ctx, target); err != nil {
		m.release()
		return nil, nil, err
	}

	timeout := make(chan struct{})
	timer := m.clock.AfterFunc(m.connectTimeout, func() { close(timeout) })
	defer timer.Stop()

	var early []transport.Event
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-timeout:
			m.release()
			return nil, nil, ErrConnectTimeout
		case event, ok := <-adapter.Events():
			if !ok {
				m.release()
				return nil, nil, errClosedBeforeOpen
			}
			switch event.Kind {
			case transport.EventOpen:
				m.mu.Lock()
				m.open = true
				m.mu.Unlock()
				return adapter, early, nil
			case transport.EventError:
				m.release()
				return nil, nil, event.Err
			case transport.EventClose:
				m.release()
				return nil, nil, errClosedBeforeOpen
			default:
				early = append(early, event)
			}
		}
	}
}

// pump forwards adapter events until the adapter closes. It returns
// false if ctx ended first, and otherwise the last runtime error seen.
func (m *Manager) pump(ctx context.Context, adapter transport.Adapter, index int, endpoint transport.Endpoint) (bool, error) {
	var lastError error
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case event, ok := <-adapter.Events():
			if !ok || event.Kind == transport.EventClose {
				if lastError == nil {
					lastError = errors.New("link closed")
				}
				return true, lastError
			}
			if event.Kind == transport.EventError {
				lastError = event.Err
			}
			if !m.emit(ctx, Event{Transport: event, Candidate: index, Endpoint: endpoint, Kind: adapter.Kind()}) {
				return false, nil
			}
		}
	}
}

// release leaves the current adapter, if any.
func (m *Manager) release() {
	m.mu.Lock()
	adapter := m.active
	m.active = nil
	m.open = false
	m.mu.Unlock()
	if adapter != nil {
		if err := adapter.Leave(); err != nil {
			m.logger.Debug("leaving adapter", "error", err)
		}
	}
}

func (m *Manager) emit(ctx context.Context, event Event) bool {
	select {
	case m.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep waits d on the manager's clock. It reports false if ctx ended
// first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	elapsed := make(chan struct{})
	timer := m.clock.AfterFunc(d, func() { close(elapsed) })
	defer timer.Stop()
	select {
	case <-elapsed:
		return true
	case <-ctx.Done():
		return false
	}
}
