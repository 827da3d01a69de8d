// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay is the pub/sub backend: both peers connect to a public
// MQTT broker over WebSocket and exchange frames on a topic derived from
// the room identity (see sessioncode.RoomIdentity.RelayTopic). There is
// no direct peer link; the broker only ever sees encrypted frames.
//
// Publishes and the subscription use QoS 1, so delivery is at least
// once and a peer may see duplicates. MQTT 3.1.1 echoes a client's own
// publishes back to it, so every frame travels inside an envelope that
// names the publishing client, and an adapter drops envelopes it sent.
//
// The broker connection is reached through the [Broker] interface. The
// default dialer uses eclipse/paho.mqtt.golang; tests substitute an
// in-process bus.
package relay
