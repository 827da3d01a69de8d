// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines how a chat session reaches its peer.
//
// [Adapter] is the contract every backend satisfies: Connect to a room,
// Send encoded frames, receive [Event] values, Leave. The backends live
// in subpackages: transport/relay publishes through an MQTT broker over
// WebSocket, transport/signaling sets up a WebRTC data channel through a
// PeerJS-style signaling server, and transport/mesh sets one up through
// public WebTorrent trackers. transport/manager cycles an ordered list of
// candidate [Endpoint] values through a [Factory], failing over on
// connect errors and timeouts.
//
// Adapters never see plaintext. Frames arrive already encrypted and
// encoded by the session layer, and the adapter only moves bytes.
//
// [PeerLink] is the WebRTC plumbing shared by the two data channel
// backends: one pion PeerConnection, one ordered reliable channel
// labelled "chat", and vanilla ICE (all candidates gathered before the
// SDP is handed to signaling), so each link needs exactly one
// offer/answer round trip. [ICEConfig] carries the STUN and TURN servers.
//
// [Emitter] owns an adapter's event channel: emits block rather than
// drop, and the channel is closed only after Leave.
//
// [MemoryHub] and [MemoryAdapter] are an in-process backend for tests.
// Endpoints on a hub can refuse, stall, or drop, which drives the
// manager's failover and reconnect paths without a network.
package transport
