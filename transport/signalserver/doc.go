// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signalserver is a small self-hostable signaling broker that
// speaks the PeerJS WebSocket protocol used by transport/signaling.
//
// Clients connect to <path>?key=&id=&token= and receive OPEN, or
// ID-TAKEN when another token holds the id, or ERROR for a bad key.
// OFFER, ANSWER, CANDIDATE and LEAVE messages are relayed to their dst
// with src set to the sender's id. A relayed message whose dst is not
// connected is answered with EXPIRE. A client that sends nothing,
// heartbeats included, for the alive timeout is disconnected.
//
// The server holds no state beyond the live registrations and never
// sees chat frames, which travel over the peers' data channel.
package signalserver
