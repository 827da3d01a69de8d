// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidryuky/Retro-Chat-95/lib/clock"
	"github.com/davidryuky/Retro-Chat-95/lib/testutil"
	"github.com/davidryuky/Retro-Chat-95/sessioncode"
	"github.com/davidryuky/Retro-Chat-95/transport"
	"github.com/davidryuky/Retro-Chat-95/transport/mesh"
)

// linkTimeout covers ICE gathering and DTLS/SCTP setup on loopback.
const linkTimeout = 20 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testRoom(t *testing.T) sessioncode.RoomIdentity {
	t.Helper()
	room, err := sessioncode.Parse("AB3DEF7xK2mQ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return room
}

// fakeTracker is a minimal WebTorrent tracker: it acknowledges
// announces, forwards offers to the rest of the swarm and routes
// answers to their addressee.
type fakeTracker struct {
	upgrader websocket.Upgrader
	failure  string

	mu        sync.Mutex
	peers     map[string]*trackerPeer
	announces map[string]int
}

type trackerPeer struct {
	infoHash string
	writeMu  sync.Mutex
	conn     *websocket.Conn
}

func (p *trackerPeer) write(message mesh.Message) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.WriteJSON(message)
}

func startTracker(t *testing.T, failure string) (*fakeTracker, transport.Endpoint) {
	t.Helper()
	tracker := &fakeTracker{
		failure:   failure,
		peers:     make(map[string]*trackerPeer),
		announces: make(map[string]int),
	}
	httpServer := httptest.NewServer(tracker)
	t.Cleanup(httpServer.Close)
	return tracker, transport.Endpoint{URL: "ws" + strings.TrimPrefix(httpServer.URL, "http")}
}

func (f *fakeTracker) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	conn, err := f.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	self := &trackerPeer{conn: conn}

	for {
		var message mesh.Message
		if err := conn.ReadJSON(&message); err != nil {
			return
		}
		if f.failure != "" {
			self.write(mesh.Message{Action: message.Action, FailureReason: f.failure})
			continue
		}
		f.route(self, message)
	}
}

func (f *fakeTracker) route(self *trackerPeer, message mesh.Message) {
	f.mu.Lock()
	self.infoHash = message.InfoHash
	f.peers[message.PeerID] = self
	var others []*trackerPeer
	for id, peer := range f.peers {
		if id != message.PeerID && peer.infoHash == message.InfoHash {
			others = append(others, peer)
		}
	}
	addressee := f.peers[message.ToPeerID]
	if message.Answer == nil {
		f.announces[message.PeerID]++
	}
	f.mu.Unlock()

	if message.Answer != nil {
		if addressee != nil {
			addressee.write(mesh.Message{
				Action:   message.Action,
				InfoHash: message.InfoHash,
				PeerID:   message.PeerID,
				Answer:   message.Answer,
				OfferID:  message.OfferID,
			})
		}
		return
	}

	self.write(mesh.Message{
		Action:     message.Action,
		InfoHash:   message.InfoHash,
		Interval:   120,
		Complete:   len(others),
		Incomplete: 1,
	})
	for index, offer := range message.Offers {
		if index >= len(others) {
			break
		}
		description := offer.Offer
		others[index].write(mesh.Message{
			Action:   message.Action,
			InfoHash: message.InfoHash,
			PeerID:   message.PeerID,
			Offer:    &description,
			OfferID:  offer.OfferID,
		})
	}
}

func (f *fakeTracker) announceCounts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var counts []int
	for _, count := range f.announces {
		counts = append(counts, count)
	}
	return counts
}

func connect(t *testing.T, endpoint transport.Endpoint, role transport.Role, options mesh.Options) *mesh.Adapter {
	t.Helper()
	options.Logger = testLogger()
	adapter := mesh.New(endpoint, options)
	t.Cleanup(func() { adapter.Leave() })
	if err := adapter.Connect(context.Background(), transport.Target{Room: testRoom(t), Role: role, Endpoint: endpoint}); err != nil {
		t.Fatalf("Connect(%s): %v", role, err)
	}
	return adapter
}

func requireEvent(t *testing.T, adapter transport.Adapter, kind transport.EventKind) transport.Event {
	t.Helper()
	event := testutil.RequireReceive(t, adapter.Events(), linkTimeout, "waiting for %s", kind)
	if event.Kind != kind {
		t.Fatalf("event = %s (err %v), want %s", event.Kind, event.Err, kind)
	}
	return event
}

func TestAdapter_HostAndGuestExchangeFrames(t *testing.T) {
	_, endpoint := startTracker(t, "")

	host := connect(t, endpoint, transport.RoleHost, mesh.Options{})
	requireEvent(t, host, transport.EventOpen)

	guest := connect(t, endpoint, transport.RoleGuest, mesh.Options{})
	requireEvent(t, guest, transport.EventOpen)
	requireEvent(t, guest, transport.EventPeerJoin)
	requireEvent(t, host, transport.EventPeerJoin)

	if err := guest.Send([]byte("hi from guest")); err != nil {
		t.Fatalf("guest Send: %v", err)
	}
	if got := requireEvent(t, host, transport.EventMessage); string(got.Frame) != "hi from guest" {
		t.Errorf("host received %q", got.Frame)
	}
	if err := host.Send([]byte("hi from host")); err != nil {
		t.Fatalf("host Send: %v", err)
	}
	if got := requireEvent(t, guest, transport.EventMessage); string(got.Frame) != "hi from host" {
		t.Errorf("guest received %q", got.Frame)
	}
}

func TestAdapter_GuestLeaveIsPeerLeaveForHost(t *testing.T) {
	_, endpoint := startTracker(t, "")

	host := connect(t, endpoint, transport.RoleHost, mesh.Options{})
	requireEvent(t, host, transport.EventOpen)
	guest := connect(t, endpoint, transport.RoleGuest, mesh.Options{})
	requireEvent(t, guest, transport.EventOpen)
	requireEvent(t, guest, transport.EventPeerJoin)
	requireEvent(t, host, transport.EventPeerJoin)

	guest.Leave()
	requireEvent(t, host, transport.EventPeerLeave)

	if err := host.Send([]byte("anyone?")); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Send after peer left = %v, want ErrNotConnected", err)
	}
}

func TestAdapter_TrackerFailureIsConnectError(t *testing.T) {
	_, endpoint := startTracker(t, "torrent not allowed")

	host := connect(t, endpoint, transport.RoleHost, mesh.Options{})
	event := requireEvent(t, host, transport.EventError)
	if event.ErrorKind != transport.ErrorKindConnect {
		t.Errorf("error kind = %s, want connect", event.ErrorKind)
	}
	if !errors.Is(event.Err, mesh.ErrTrackerFailure) {
		t.Errorf("error = %v, want ErrTrackerFailure", event.Err)
	}
}

func TestAdapter_UnreachableTrackerIsConnectError(t *testing.T) {
	host := connect(t, transport.Endpoint{URL: "ws://127.0.0.1:1"}, transport.RoleHost, mesh.Options{})
	event := requireEvent(t, host, transport.EventError)
	if event.ErrorKind != transport.ErrorKindConnect {
		t.Errorf("error kind = %s, want connect", event.ErrorKind)
	}
}

func TestAdapter_ReannouncesWhileUnlinked(t *testing.T) {
	tracker, endpoint := startTracker(t, "")
	fakeClock := clock.Fake(time.Unix(0, 0))

	host := connect(t, endpoint, transport.RoleHost, mesh.Options{Clock: fakeClock, AnnounceInterval: 10 * time.Second})
	requireEvent(t, host, transport.EventOpen)

	fakeClock.WaitForTimers(1)
	fakeClock.Advance(10 * time.Second)

	deadline := time.Now().Add(linkTimeout)
	for {
		counts := tracker.announceCounts()
		if len(counts) == 1 && counts[0] >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("announce counts = %v, want one peer with at least 2", counts)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAdapter_LeaveIsIdempotent(t *testing.T) {
	_, endpoint := startTracker(t, "")
	host := connect(t, endpoint, transport.RoleHost, mesh.Options{})
	requireEvent(t, host, transport.EventOpen)

	if err := host.Leave(); err != nil {
		t.Fatalf("first Leave: %v", err)
	}
	if err := host.Leave(); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	if err := host.Send([]byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send after Leave = %v, want ErrClosed", err)
	}
	if err := host.Connect(context.Background(), transport.Target{Room: testRoom(t), Role: transport.RoleHost, Endpoint: endpoint}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Connect after Leave = %v, want ErrClosed", err)
	}
}
