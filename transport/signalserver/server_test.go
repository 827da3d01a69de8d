// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signalserver

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidryuky/Retro-Chat-95/transport/signaling"
)

func startServer(t *testing.T, options Options) (*Server, string) {
	t.Helper()
	options.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	server := New(options)
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)
	return server, "ws" + strings.TrimPrefix(httpServer.URL, "http") + DefaultPath
}

func dial(t *testing.T, base, key, id, token string) *websocket.Conn {
	t.Helper()
	socketURL, err := signaling.SocketURL(base, key, id, token)
	if err != nil {
		t.Fatalf("SocketURL: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) signaling.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var message signaling.Message
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return message
}

func register(t *testing.T, base, id string) *websocket.Conn {
	t.Helper()
	conn := dial(t, base, signaling.DefaultKey, id, "token-"+id)
	if message := readMessage(t, conn); message.Type != signaling.TypeOpen {
		t.Fatalf("registration of %s got %s, want OPEN", id, message.Type)
	}
	return conn
}

func TestServer_RegistersAndRelays(t *testing.T) {
	server, base := startServer(t, Options{})
	host := register(t, base, "retrochat95-ab3def")
	guest := register(t, base, "retrochat95-guest-1")

	if clients := server.Clients(); clients != 2 {
		t.Errorf("Clients() = %d, want 2", clients)
	}

	offer, err := signaling.NewMessage(signaling.TypeOffer, "retrochat95-ab3def", signaling.ConnectionPayload{
		Type:         "data",
		ConnectionID: "dc_1",
	})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := guest.WriteJSON(offer); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	relayed := readMessage(t, host)
	if relayed.Type != signaling.TypeOffer {
		t.Fatalf("host received %s, want OFFER", relayed.Type)
	}
	if relayed.Src != "retrochat95-guest-1" {
		t.Errorf("src = %q, want the guest id", relayed.Src)
	}
	payload, err := relayed.ConnectionPayload()
	if err != nil {
		t.Fatalf("ConnectionPayload: %v", err)
	}
	if payload.ConnectionID != "dc_1" {
		t.Errorf("connectionId = %q, want dc_1", payload.ConnectionID)
	}
}

func TestServer_HeartbeatsAreNotRelayed(t *testing.T) {
	_, base := startServer(t, Options{})
	host := register(t, base, "host")
	guest := register(t, base, "guest")

	guest.WriteJSON(signaling.Message{Type: signaling.TypeHeartbeat})
	guest.WriteJSON(signaling.Message{Type: signaling.TypeLeave, Dst: "host"})

	if message := readMessage(t, host); message.Type != signaling.TypeLeave {
		t.Errorf("host received %s, want LEAVE (heartbeat must be swallowed)", message.Type)
	}
}

func TestServer_UnknownDestinationExpires(t *testing.T) {
	_, base := startServer(t, Options{})
	guest := register(t, base, "guest")

	guest.WriteJSON(signaling.Message{Type: signaling.TypeOffer, Dst: "nobody", Payload: []byte(`{}`)})
	message := readMessage(t, guest)
	if message.Type != signaling.TypeExpire {
		t.Fatalf("got %s, want EXPIRE", message.Type)
	}
	if message.Src != "nobody" || message.Dst != "guest" {
		t.Errorf("EXPIRE src=%q dst=%q", message.Src, message.Dst)
	}
}

func TestServer_IDTaken(t *testing.T) {
	_, base := startServer(t, Options{})
	register(t, base, "room")

	second := dial(t, base, signaling.DefaultKey, "room", "other-token")
	message := readMessage(t, second)
	if message.Type != signaling.TypeIDTaken {
		t.Errorf("got %s, want ID-TAKEN", message.Type)
	}
}

func TestServer_SameTokenReplacesRegistration(t *testing.T) {
	server, base := startServer(t, Options{})
	register(t, base, "room")
	register(t, base, "room")

	if clients := server.Clients(); clients != 1 {
		t.Errorf("Clients() = %d, want 1", clients)
	}
}

func TestServer_InvalidKey(t *testing.T) {
	_, base := startServer(t, Options{Key: "secret"})
	conn := dial(t, base, "wrong", "room", "token")
	message := readMessage(t, conn)
	if message.Type != signaling.TypeError {
		t.Fatalf("got %s, want ERROR", message.Type)
	}
	if !strings.Contains(message.ErrorMessage(), "Invalid key") {
		t.Errorf("error text = %q", message.ErrorMessage())
	}
}

func TestServer_SilentClientIsDropped(t *testing.T) {
	server, base := startServer(t, Options{AliveTimeout: 100 * time.Millisecond})
	conn := register(t, base, "quiet")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to close a silent client")
	}
	deadline := time.Now().Add(5 * time.Second)
	for server.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d after drop, want 0", server.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
