// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davidryuky/Retro-Chat-95/lib/testutil"
	"github.com/davidryuky/Retro-Chat-95/sessioncode"
)

const eventTimeout = 5 * time.Second

func testTarget(t *testing.T, url string, role Role) Target {
	t.Helper()
	room, err := sessioncode.Parse("AB3DEF7xK2mQ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return Target{Room: room, Role: role, Endpoint: Endpoint{URL: url}}
}

func requireEvent(t *testing.T, adapter Adapter, kind EventKind) Event {
	t.Helper()
	event := testutil.RequireReceive(t, adapter.Events(), eventTimeout, "waiting for %s", kind)
	if event.Kind != kind {
		t.Fatalf("event = %s (err %v), want %s", event.Kind, event.Err, kind)
	}
	return event
}

func TestMemoryAdapter_RoundTrip(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	host := hub.NewAdapter(Endpoint{URL: "memory://a"})
	defer host.Leave()
	guest := hub.NewAdapter(Endpoint{URL: "memory://a"})
	defer guest.Leave()

	if err := host.Connect(ctx, testTarget(t, "memory://a", RoleHost)); err != nil {
		t.Fatalf("host Connect: %v", err)
	}
	requireEvent(t, host, EventOpen)

	if err := guest.Connect(ctx, testTarget(t, "memory://a", RoleGuest)); err != nil {
		t.Fatalf("guest Connect: %v", err)
	}
	requireEvent(t, guest, EventOpen)
	requireEvent(t, guest, EventPeerJoin)
	requireEvent(t, host, EventPeerJoin)

	if err := guest.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	message := requireEvent(t, host, EventMessage)
	if string(message.Frame) != "hello" {
		t.Errorf("frame = %q, want %q", message.Frame, "hello")
	}

	if err := guest.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	requireEvent(t, host, EventPeerLeave)
	if hub.Members("memory://a", "retrochat95-ab3def") != 1 {
		t.Errorf("members = %d, want 1", hub.Members("memory://a", "retrochat95-ab3def"))
	}
}

func TestMemoryAdapter_SeparateEndpointsDoNotMeet(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	first := hub.NewAdapter(Endpoint{URL: "memory://a"})
	defer first.Leave()
	second := hub.NewAdapter(Endpoint{URL: "memory://b"})
	defer second.Leave()

	first.Connect(ctx, testTarget(t, "memory://a", RoleHost))
	second.Connect(ctx, testTarget(t, "memory://b", RoleGuest))
	requireEvent(t, first, EventOpen)
	requireEvent(t, second, EventOpen)

	if err := second.Send([]byte("anyone?")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	testutil.RequireNoReceive(t, first.Events(), 50*time.Millisecond, "adapters on different endpoints")
}

func TestMemoryAdapter_Refuse(t *testing.T) {
	hub := NewMemoryHub()
	refusal := errors.New("connection refused")
	hub.Refuse("memory://down", refusal)

	adapter := hub.NewAdapter(Endpoint{URL: "memory://down"})
	defer adapter.Leave()

	if err := adapter.Connect(context.Background(), testTarget(t, "memory://down", RoleHost)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	event := requireEvent(t, adapter, EventError)
	if event.ErrorKind != ErrorKindConnect || !errors.Is(event.Err, refusal) {
		t.Errorf("error event = %s %v", event.ErrorKind, event.Err)
	}
	if !errors.Is(adapter.Send([]byte("x")), ErrNotConnected) {
		t.Error("Send on a refused adapter should fail with ErrNotConnected")
	}
	if hub.Attempts("memory://down") != 1 {
		t.Errorf("attempts = %d, want 1", hub.Attempts("memory://down"))
	}
}

func TestMemoryAdapter_DropReportsRuntimeErrorAndClose(t *testing.T) {
	hub := NewMemoryHub()
	adapter := hub.NewAdapter(Endpoint{URL: "memory://a"})
	defer adapter.Leave()

	adapter.Connect(context.Background(), testTarget(t, "memory://a", RoleHost))
	requireEvent(t, adapter, EventOpen)

	hub.Drop("memory://a")
	event := requireEvent(t, adapter, EventError)
	if event.ErrorKind != ErrorKindRuntime {
		t.Errorf("error kind = %s, want runtime", event.ErrorKind)
	}
	requireEvent(t, adapter, EventClose)
}

func TestMemoryAdapter_LeaveIsIdempotent(t *testing.T) {
	hub := NewMemoryHub()
	adapter := hub.NewAdapter(Endpoint{URL: "memory://a"})

	if err := adapter.Leave(); err != nil {
		t.Fatalf("first Leave: %v", err)
	}
	if err := adapter.Leave(); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	if _, ok := <-adapter.Events(); ok {
		t.Error("event channel should be closed after Leave")
	}
	if err := adapter.Connect(context.Background(), testTarget(t, "memory://a", RoleHost)); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Leave = %v, want ErrClosed", err)
	}
	if err := adapter.Send(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Leave = %v, want ErrClosed", err)
	}
}

func TestMemoryAdapter_ReconnectTearsDownPreviousLink(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	observer := hub.NewAdapter(Endpoint{URL: "memory://a"})
	defer observer.Leave()
	observer.Connect(ctx, testTarget(t, "memory://a", RoleHost))
	requireEvent(t, observer, EventOpen)

	adapter := hub.NewAdapter(Endpoint{URL: "memory://a"})
	defer adapter.Leave()
	adapter.Connect(ctx, testTarget(t, "memory://a", RoleGuest))
	requireEvent(t, observer, EventPeerJoin)

	adapter.Connect(ctx, testTarget(t, "memory://a", RoleGuest))
	requireEvent(t, observer, EventPeerLeave)
	requireEvent(t, observer, EventPeerJoin)
	if members := hub.Members("memory://a", "retrochat95-ab3def"); members != 2 {
		t.Errorf("members = %d, want 2", members)
	}
}
