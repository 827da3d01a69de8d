// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
	"github.com/davidryuky/Retro-Chat-95/sessioncode"
	"github.com/davidryuky/Retro-Chat-95/session"
	"github.com/davidryuky/Retro-Chat-95/transport"
	"github.com/davidryuky/Retro-Chat-95/transport/manager"
)

const waitTimeout = 10 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newController(t *testing.T, username string, hub *transport.MemoryHub, fakeClock *clock.FakeClock, urls ...string) *session.Controller {
	t.Helper()
	var candidates []transport.Endpoint
	for _, url := range urls {
		candidates = append(candidates, transport.Endpoint{URL: url})
	}
	controller := session.New(session.Options{
		Username: username,
		NewLink: func() session.Link {
			return manager.New(manager.Options{
				Factory:    hub.Factory(),
				Candidates: candidates,
				Clock:      fakeClock,
				Logger:     testLogger(),
			})
		},
		Clock:    fakeClock,
		Logger:   testLogger(),
		Generate: func() (sessioncode.Code, error) { return "AB3DEF7xK2mQ", nil },
	})
	t.Cleanup(controller.Leave)
	return controller
}

// waitFor blocks until condition holds for the controller's snapshot.
func waitFor(t *testing.T, controller *session.Controller, description string, condition func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		snapshot := controller.Snapshot()
		if condition(snapshot) {
			return snapshot
		}
		select {
		case <-controller.Changes():
		case <-deadline:
			t.Fatalf("timed out waiting for %s; last snapshot state=%s status=%q", description, snapshot.State, snapshot.Status)
		}
	}
}

func inState(state session.State) func(session.Snapshot) bool {
	return func(snapshot session.Snapshot) bool { return snapshot.State == state }
}

func chatMessages(snapshot session.Snapshot) []session.Message {
	var chats []session.Message
	for _, message := range snapshot.Messages {
		if !message.System {
			chats = append(chats, message)
		}
	}
	return chats
}

func TestSession_HostAndGuestEndToEnd(t *testing.T) {
	hub := transport.NewMemoryHub()
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	ctx := context.Background()

	host := newController(t, "Host", hub, fakeClock, "memory://relay-1")
	guest := newController(t, "Guest", hub, fakeClock, "memory://relay-1")

	code, err := host.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if code != "AB3DEF7xK2mQ" {
		t.Fatalf("code = %q", code)
	}
	waitFor(t, host, "host waiting for peer", inState(session.StateWaitingForPeer))

	if err := guest.JoinSession(ctx, string(code)); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	waitFor(t, guest, "guest connected", inState(session.StateConnected))
	waitFor(t, host, "host connected", inState(session.StateConnected))

	if err := guest.SendChatMessage("hello"); err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	received := waitFor(t, host, "host received hello", func(snapshot session.Snapshot) bool {
		return len(chatMessages(snapshot)) > 0
	})
	chats := chatMessages(received)
	if len(chats) != 1 {
		t.Fatalf("host has %d chat messages, want 1", len(chats))
	}
	if chats[0].Sender != "Guest" || chats[0].Content != "hello" || chats[0].Outgoing {
		t.Errorf("host message = %+v", chats[0])
	}

	waitFor(t, guest, "guest message read", func(snapshot session.Snapshot) bool {
		chats := chatMessages(snapshot)
		return len(chats) == 1 && chats[0].Outgoing && chats[0].Status == session.DeliveryRead
	})

	guest.Leave()
	waitFor(t, host, "host notices guest leaving", func(snapshot session.Snapshot) bool {
		if len(snapshot.Messages) == 0 {
			return false
		}
		last := snapshot.Messages[len(snapshot.Messages)-1]
		return snapshot.State == session.StateWaitingForPeer && last.System && last.Content == "Guest left"
	})
	if state := guest.Snapshot().State; state != session.StateOffline {
		t.Errorf("guest state after Leave = %s, want offline", state)
	}
}

func TestSession_FailoverToThirdRelay(t *testing.T) {
	hub := transport.NewMemoryHub()
	hub.Refuse("memory://relay-1", errors.New("connection refused"))
	hub.Refuse("memory://relay-2", errors.New("connection refused"))
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	ctx := context.Background()
	urls := []string{"memory://relay-1", "memory://relay-2", "memory://relay-3"}

	host := newController(t, "Host", hub, fakeClock, urls...)
	guest := newController(t, "Guest", hub, fakeClock, urls...)

	if _, err := host.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	waitFor(t, host, "host waiting for peer", inState(session.StateWaitingForPeer))
	if err := guest.JoinSession(ctx, "https://chat.example/?join=AB3DEF7xK2mQ"); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	waitFor(t, guest, "guest connected", inState(session.StateConnected))
	waitFor(t, host, "host connected", inState(session.StateConnected))

	for _, url := range urls[:2] {
		if attempts := hub.Attempts(url); attempts != 2 {
			t.Errorf("%s attempts = %d, want 2 (one per controller)", url, attempts)
		}
	}
}

func TestSession_ReconnectAfterRelayDrop(t *testing.T) {
	hub := transport.NewMemoryHub()
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	ctx := context.Background()

	host := newController(t, "Host", hub, fakeClock, "memory://relay-1")
	guest := newController(t, "Guest", hub, fakeClock, "memory://relay-1")

	if _, err := host.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	waitFor(t, host, "host waiting for peer", inState(session.StateWaitingForPeer))
	if err := guest.JoinSession(ctx, "AB3DEF7xK2mQ"); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	waitFor(t, host, "host connected", inState(session.StateConnected))

	hub.Drop("memory://relay-1")
	waitFor(t, guest, "guest reconnecting", inState(session.StateReconnecting))
	waitFor(t, host, "host reconnecting", inState(session.StateReconnecting))

	fakeClock.WaitForTimers(2)
	fakeClock.Advance(manager.DefaultReconnectDelay)
	waitFor(t, host, "host reconnected", inState(session.StateConnected))
	waitFor(t, guest, "guest reconnected", inState(session.StateConnected))

	if err := host.SendChatMessage("still here?"); err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	waitFor(t, guest, "guest received message after reconnect", func(snapshot session.Snapshot) bool {
		for _, message := range chatMessages(snapshot) {
			if message.Content == "still here?" {
				return true
			}
		}
		return false
	})
}
