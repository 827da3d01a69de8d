// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pion/webrtc/v4"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
)

// ChannelLabel is the label of the single chat data channel.
const ChannelLabel = "chat"

// iceGatherTimeout is the maximum time to wait for ICE candidate
// gathering to complete before the SDP is handed to signaling.
const iceGatherTimeout = 15 * time.Second

// LinkCallbacks receive a PeerLink's lifecycle. They run on pion's
// goroutines and are never called after the link is closed locally.
type LinkCallbacks struct {
	// OnOpen runs once when the data channel opens.
	OnOpen func()

	// OnMessage runs for each inbound data channel message, in order.
	OnMessage func(frame []byte)

	// OnClose runs once when the remote side or the network ends an
	// established or pending link.
	OnClose func()
}

// PeerLink is one PeerConnection carrying one ordered, reliable data
// channel to a single remote peer. Signaling uses vanilla ICE: the SDP
// returned by CreateOffer and CreateAnswer already contains every
// gathered candidate, so one offer/answer round trip is enough.
type PeerLink struct {
	connection *webrtc.PeerConnection
	callbacks  LinkCallbacks
	clock      clock.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	channel  *webrtc.DataChannel
	open     bool
	finished bool
}

// NewPeerLink creates a PeerConnection with the given ICE servers.
// Loopback candidates are included so two links on the same machine can
// reach each other. The gather timeout runs on clk; nil means the real
// clock.
func NewPeerLink(ice ICEConfig, callbacks LinkCallbacks, clk clock.Clock, logger *slog.Logger) (*PeerLink, error) {
	if clk == nil {
		clk = clock.Real()
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	connection, err := api.NewPeerConnection(ice.Configuration())
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	link := &PeerLink{
		connection: connection,
		callbacks:  callbacks,
		clock:      clk,
		logger:     logger,
	}

	connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		link.adopt(channel)
	})
	connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state change", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			link.finish()
		}
	})
	return link, nil
}

// CreateOffer opens the chat data channel and returns the complete
// local offer.
func (l *PeerLink) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	ordered := true
	channel, err := l.connection.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating data channel: %w", err)
	}
	l.attach(channel)

	offer, err := l.connection.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating SDP offer: %w", err)
	}
	return l.gather(ctx, offer)
}

// AcceptAnswer applies the remote answer to an offer made by CreateOffer.
func (l *PeerLink) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := l.connection.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

// CreateAnswer applies a remote offer and returns the complete local
// answer. The offerer's chat channel arrives through OnDataChannel.
func (l *PeerLink) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := l.connection.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := l.connection.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating SDP answer: %w", err)
	}
	return l.gather(ctx, answer)
}

// AddCandidate applies a trickled remote ICE candidate. Peers that
// signal with vanilla ICE never send any, but browser peers may.
func (l *PeerLink) AddCandidate(candidate webrtc.ICECandidateInit) error {
	if err := l.connection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// gather sets the local description and waits for ICE gathering to
// complete.
func (l *PeerLink) gather(ctx context.Context, description webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(l.connection)
	if err := l.connection.SetLocalDescription(description); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("setting local description: %w", err)
	}

	if err := l.awaitGathering(ctx, gatherComplete); err != nil {
		return webrtc.SessionDescription{}, err
	}

	local := l.connection.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, errors.New("no local description after gathering")
	}
	return *local, nil
}

// awaitGathering blocks until gathered is closed, the gather timeout
// passes on the link's clock, or ctx ends.
func (l *PeerLink) awaitGathering(ctx context.Context, gathered <-chan struct{}) error {
	timedOut := make(chan struct{})
	timer := l.clock.AfterFunc(iceGatherTimeout, func() { close(timedOut) })
	defer timer.Stop()

	select {
	case <-gathered:
		return nil
	case <-timedOut:
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// adopt accepts the remote peer's chat channel. Any other channel is
// closed as soon as it opens.
func (l *PeerLink) adopt(channel *webrtc.DataChannel) {
	l.mu.Lock()
	accept := channel.Label() == ChannelLabel && l.channel == nil
	l.mu.Unlock()

	if !accept {
		l.logger.Debug("rejecting extra data channel", "label", channel.Label())
		channel.OnOpen(func() { channel.Close() })
		return
	}
	l.attach(channel)
}

func (l *PeerLink) attach(channel *webrtc.DataChannel) {
	l.mu.Lock()
	l.channel = channel
	l.mu.Unlock()

	channel.OnOpen(func() {
		l.mu.Lock()
		if l.finished || l.open {
			l.mu.Unlock()
			return
		}
		l.open = true
		l.mu.Unlock()

		l.logger.Debug("data channel opened", "label", channel.Label())
		if l.callbacks.OnOpen != nil {
			l.callbacks.OnOpen()
		}
	})
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		l.mu.Lock()
		finished := l.finished
		l.mu.Unlock()
		if finished || l.callbacks.OnMessage == nil {
			return
		}
		l.callbacks.OnMessage(message.Data)
	})
	channel.OnClose(func() {
		l.finish()
	})
}

// finish reports a remote or network close once and releases the
// PeerConnection.
func (l *PeerLink) finish() {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	l.open = false
	l.mu.Unlock()

	if l.callbacks.OnClose != nil {
		l.callbacks.OnClose()
	}
	// Closing from inside a pion callback can wait on the callback's own
	// goroutine.
	go l.connection.Close()
}

// Open reports whether the data channel is open.
func (l *PeerLink) Open() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Send writes one frame to the data channel. UTF-8 frames are sent as
// text messages so browser peers receive strings.
func (l *PeerLink) Send(frame []byte) error {
	l.mu.Lock()
	channel := l.channel
	ready := l.open && !l.finished
	l.mu.Unlock()

	if !ready {
		return ErrNotConnected
	}
	if utf8.Valid(frame) {
		return channel.SendText(string(frame))
	}
	return channel.Send(frame)
}

// Close tears the link down without invoking OnClose. It is idempotent.
func (l *PeerLink) Close() error {
	l.mu.Lock()
	l.finished = true
	l.open = false
	l.mu.Unlock()
	return l.connection.Close()
}
