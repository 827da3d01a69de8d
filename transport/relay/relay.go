// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidryuky/Retro-Chat-95/transport"
)

// Compile-time interface check.
var _ transport.Adapter = (*Adapter)(nil)

// defaultConnectTimeout bounds the MQTT CONNECT handshake when Options
// leaves it unset.
const defaultConnectTimeout = 6 * time.Second

// clientIDPrefix starts every MQTT client id.
const clientIDPrefix = "retrochat-"

// Options configures relay adapters.
type Options struct {
	Logger *slog.Logger

	// Dial creates the broker client. Nil means DialPaho.
	Dial DialFunc

	// ConnectTimeout bounds the MQTT handshake.
	ConnectTimeout time.Duration
}

// envelope wraps every published frame.
type envelope struct {
	// Origin is the publishing client's id.
	Origin string `json:"origin"`

	// Frame is the encoded wire frame.
	Frame []byte `json:"frame"`
}

// NewFactory returns a transport.Factory producing relay adapters.
func NewFactory(options Options) transport.Factory {
	return func(endpoint transport.Endpoint) (transport.Adapter, error) {
		return New(endpoint, options), nil
	}
}

// Adapter is the relay backend's transport.Adapter.
type Adapter struct {
	endpoint transport.Endpoint
	dial     DialFunc
	timeout  time.Duration
	logger   *slog.Logger
	emitter  *transport.Emitter

	mu         sync.Mutex
	broker     Broker
	cancel     context.CancelFunc
	clientID   string
	topic      string
	generation uint64
	ready      bool
	left       bool
}

// New creates an unconnected relay adapter for endpoint.
func New(endpoint transport.Endpoint, options Options) *Adapter {
	dial := options.Dial
	if dial == nil {
		dial = DialPaho
	}
	timeout := options.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		endpoint: endpoint,
		dial:     dial,
		timeout:  timeout,
		logger:   logger.With("backend", transport.KindRelay, "broker", endpoint.URL),
		emitter:  transport.NewEmitter(),
	}
}

func (a *Adapter) Kind() transport.Kind { return transport.KindRelay }

func (a *Adapter) Events() <-chan transport.Event { return a.emitter.Events() }

// Connect starts connecting to the broker and subscribing to the room
// topic. EventOpen follows a successful subscription.
func (a *Adapter) Connect(ctx context.Context, target transport.Target) error {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return transport.ErrClosed
	}
	previous := a.detachLocked()

	a.generation++
	generation := a.generation
	a.clientID = clientIDPrefix + uuid.NewString()
	a.topic = target.Room.RelayTopic()
	a.broker = a.dial(a.endpoint.URL, a.clientID, a.timeout, func(err error) {
		a.lost(generation, err)
	})
	attemptContext, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	broker, topic := a.broker, a.topic
	a.mu.Unlock()

	if previous != nil {
		previous.Disconnect()
	}
	go a.establish(attemptContext, generation, broker, topic)
	return nil
}

// detachLocked forgets the current broker and returns it for the caller
// to disconnect outside the lock.
func (a *Adapter) detachLocked() Broker {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	broker := a.broker
	a.broker = nil
	a.ready = false
	return broker
}

func (a *Adapter) establish(ctx context.Context, generation uint64, broker Broker, topic string) {
	if err := broker.Connect(ctx); err != nil {
		a.failConnect(generation, fmt.Errorf("connecting to broker %s: %w", a.endpoint.URL, err))
		return
	}
	err := broker.Subscribe(ctx, topic, func(payload []byte) {
		a.deliver(generation, payload)
	})
	if err != nil {
		a.failConnect(generation, fmt.Errorf("subscribing to %s: %w", topic, err))
		return
	}

	a.mu.Lock()
	if a.left || a.generation != generation {
		a.mu.Unlock()
		return
	}
	a.ready = true
	a.mu.Unlock()

	a.logger.Info("relay subscribed", "topic", topic)
	a.emitter.Emit(transport.Open())
}

func (a *Adapter) failConnect(generation uint64, err error) {
	if !a.current(generation) {
		return
	}
	a.logger.Warn("relay connect failed", "error", err)
	a.emitter.Emit(transport.Failure(transport.ErrorKindConnect, err))
}

// deliver unwraps one publish and emits it unless this adapter sent it.
func (a *Adapter) deliver(generation uint64, payload []byte) {
	a.mu.Lock()
	current := !a.left && a.generation == generation
	self := a.clientID
	a.mu.Unlock()
	if !current {
		return
	}

	var message envelope
	if err := json.Unmarshal(payload, &message); err != nil {
		a.logger.Debug("dropping malformed relay envelope", "error", err)
		return
	}
	if message.Origin == self {
		return
	}
	a.emitter.Emit(transport.Message(message.Frame))
}

// lost handles an established connection dropping.
func (a *Adapter) lost(generation uint64, err error) {
	a.mu.Lock()
	if a.left || a.generation != generation {
		a.mu.Unlock()
		return
	}
	a.ready = false
	a.mu.Unlock()

	a.logger.Warn("relay connection lost", "error", err)
	a.emitter.Emit(transport.Failure(transport.ErrorKindRuntime, fmt.Errorf("broker connection lost: %w", err)))
	a.emitter.Emit(transport.Closed())
}

func (a *Adapter) current(generation uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.left && a.generation == generation
}

// Send publishes frame to the room topic. The broker's acknowledgement
// is awaited in the background; a failed publish becomes a runtime
// error event.
func (a *Adapter) Send(frame []byte) error {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return transport.ErrClosed
	}
	if !a.ready {
		a.mu.Unlock()
		return transport.ErrNotConnected
	}
	broker, topic, generation := a.broker, a.topic, a.generation
	payload, err := json.Marshal(envelope{Origin: a.clientID, Frame: frame})
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding relay envelope: %w", err)
	}

	outcome := broker.Publish(topic, payload)
	go func() {
		if err := <-outcome; err != nil && a.current(generation) {
			a.emitter.Emit(transport.Failure(transport.ErrorKindRuntime, fmt.Errorf("publishing to %s: %w", topic, err)))
		}
	}()
	return nil
}

// Leave disconnects from the broker and closes the event channel.
func (a *Adapter) Leave() error {
	a.mu.Lock()
	if a.left {
		a.mu.Unlock()
		return nil
	}
	a.left = true
	broker := a.detachLocked()
	a.mu.Unlock()

	if broker != nil {
		broker.Disconnect()
	}
	a.emitter.Close()
	return nil
}
