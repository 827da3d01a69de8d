// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mesh is the tracker-discovered WebRTC backend. Peers announce
// the room's info hash (RoomIdentity.InfoHash) to a public WebTorrent
// tracker over WebSocket; the tracker forwards each announce's offer to
// other peers in the swarm and routes their answers back. The chat then
// runs over a direct data channel (transport.PeerLink).
//
// Every announce carries one freshly gathered offer, and an unlinked
// adapter re-announces on a fixed interval. Inbound offers are answered
// while no link is open. When both peers' offers are answered at once,
// two links open; each side keeps the link whose offerer has the
// lexicographically smaller peer id, so both keep the same one.
package mesh
