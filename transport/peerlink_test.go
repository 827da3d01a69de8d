// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
	"github.com/davidryuky/Retro-Chat-95/lib/testutil"
)

// linkRecorder captures PeerLink callbacks on channels.
type linkRecorder struct {
	opened   chan struct{}
	messages chan []byte
	closed   chan struct{}
}

func newLinkRecorder() *linkRecorder {
	return &linkRecorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 16),
		closed:   make(chan struct{}, 1),
	}
}

func (r *linkRecorder) callbacks() LinkCallbacks {
	return LinkCallbacks{
		OnOpen:    func() { r.opened <- struct{}{} },
		OnMessage: func(frame []byte) { r.messages <- frame },
		OnClose:   func() { r.closed <- struct{}{} },
	}
}

// connectLinks runs one vanilla ICE offer/answer exchange between two
// loopback PeerLinks and waits for both channels to open.
func connectLinks(t *testing.T) (offerer, answerer *PeerLink, offererEvents, answererEvents *linkRecorder) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	offererEvents = newLinkRecorder()
	answererEvents = newLinkRecorder()

	offerer, err := NewPeerLink(ICEConfig{}, offererEvents.callbacks(), nil, logger)
	if err != nil {
		t.Fatalf("NewPeerLink(offerer): %v", err)
	}
	t.Cleanup(func() { offerer.Close() })

	answerer, err = NewPeerLink(ICEConfig{}, answererEvents.callbacks(), nil, logger)
	if err != nil {
		t.Fatalf("NewPeerLink(answerer): %v", err)
	}
	t.Cleanup(func() { answerer.Close() })

	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err := answerer.CreateAnswer(ctx, offer)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := offerer.AcceptAnswer(answer); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}

	testutil.RequireReceive(t, offererEvents.opened, 20*time.Second, "offerer data channel open")
	testutil.RequireReceive(t, answererEvents.opened, 20*time.Second, "answerer data channel open")
	return offerer, answerer, offererEvents, answererEvents
}

func TestPeerLink_ExchangesFramesInOrder(t *testing.T) {
	offerer, answerer, offererEvents, answererEvents := connectLinks(t)

	if !offerer.Open() || !answerer.Open() {
		t.Fatal("both links should report open")
	}

	frames := []string{`{"type":"JOIN","sender":"Guest"}`, `{"type":"TYPING"}`, `{"type":"LEAVE"}`}
	for _, frame := range frames {
		if err := offerer.Send([]byte(frame)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range frames {
		got := testutil.RequireReceive(t, answererEvents.messages, 10*time.Second, "answerer message")
		if string(got) != want {
			t.Errorf("answerer received %q, want %q", got, want)
		}
	}

	binary := []byte{0xa2, 0xff, 0x00}
	if err := answerer.Send(binary); err != nil {
		t.Fatalf("Send binary: %v", err)
	}
	got := testutil.RequireReceive(t, offererEvents.messages, 10*time.Second, "offerer message")
	if string(got) != string(binary) {
		t.Errorf("offerer received %x, want %x", got, binary)
	}
}

func TestPeerLink_LocalCloseIsSilent(t *testing.T) {
	offerer, _, offererEvents, _ := connectLinks(t)

	if err := offerer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := offerer.Send([]byte("late")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Close = %v, want ErrNotConnected", err)
	}
	testutil.RequireNoReceive(t, offererEvents.closed, 200*time.Millisecond, "local close must not call OnClose")
}

func TestPeerLink_SendBeforeOpen(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	link, err := NewPeerLink(ICEConfig{}, LinkCallbacks{}, nil, logger)
	if err != nil {
		t.Fatalf("NewPeerLink: %v", err)
	}
	defer link.Close()

	if err := link.Send([]byte("early")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before open = %v, want ErrNotConnected", err)
	}
}

func TestPeerLink_GatherTimeoutUsesClock(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	fakeClock := clock.Fake(time.Unix(0, 0))
	link, err := NewPeerLink(ICEConfig{}, LinkCallbacks{}, fakeClock, logger)
	if err != nil {
		t.Fatalf("NewPeerLink: %v", err)
	}
	defer link.Close()

	never := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- link.awaitGathering(context.Background(), never)
	}()

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(iceGatherTimeout - time.Millisecond)
	testutil.RequireNoReceive(t, result, 50*time.Millisecond, "timed out before the deadline")

	fakeClock.Advance(time.Millisecond)
	if err := testutil.RequireReceive(t, result, 5*time.Second, "gather timeout"); err == nil {
		t.Fatal("awaitGathering returned nil without gathering")
	}

	gathered := make(chan struct{})
	close(gathered)
	if err := link.awaitGathering(context.Background(), gathered); err != nil {
		t.Errorf("awaitGathering after completion = %v", err)
	}
	if pending := fakeClock.PendingCount(); pending != 0 {
		t.Errorf("%d timers left pending after gathering", pending)
	}
}
