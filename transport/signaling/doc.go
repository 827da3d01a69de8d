// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling is the signaling-server WebRTC backend. Peers speak a
// PeerJS-compatible protocol over a WebSocket to a central server
// (transport/signalserver, or a public PeerJS server) only long enough
// to exchange one offer and one answer; chat frames then flow over a
// direct data channel (transport.PeerLink).
//
// The host registers the room's derived identifier (RoomIdentity.RoomID)
// and waits. The guest registers a random identifier and sends an OFFER
// addressed to the room identifier. An EXPIRE reply means nobody holds
// that identifier yet, which is reported as a connect error so the
// transport manager retries. A host that already has an open link
// answers further offers with LEAVE.
//
// Both sides send HEARTBEAT every five seconds so the server keeps the
// registration alive.
package signaling
