// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/pion/webrtc/v4"
)

// MessageType is the type field of a signaling message.
type MessageType string

const (
	// Server to client.
	TypeOpen    MessageType = "OPEN"
	TypeIDTaken MessageType = "ID-TAKEN"
	TypeError   MessageType = "ERROR"
	TypeExpire  MessageType = "EXPIRE"

	// Relayed between clients.
	TypeOffer     MessageType = "OFFER"
	TypeAnswer    MessageType = "ANSWER"
	TypeCandidate MessageType = "CANDIDATE"
	TypeLeave     MessageType = "LEAVE"

	// Client to server.
	TypeHeartbeat MessageType = "HEARTBEAT"
)

// Relayed reports whether the server forwards messages of this type to
// their dst.
func (t MessageType) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave:
		return true
	}
	return false
}

// Message is one WebSocket text frame. The server fills in Src on
// relayed messages.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionPayload is the payload of OFFER, ANSWER and CANDIDATE.
type ConnectionPayload struct {
	SDP           *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate     *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Type          string                     `json:"type"`
	ConnectionID  string                     `json:"connectionId"`
	Label         string                     `json:"label,omitempty"`
	Reliable      bool                       `json:"reliable,omitempty"`
	Serialization string                     `json:"serialization,omitempty"`
}

// ErrorPayload is the payload of ERROR and ID-TAKEN.
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// connectionType is the ConnectionPayload type for data connections.
const connectionType = "data"

// NewMessage builds a message with payload encoded as JSON. A nil
// payload leaves the field out.
func NewMessage(messageType MessageType, dst string, payload any) (Message, error) {
	message := Message{Type: messageType, Dst: dst}
	if payload == nil {
		return message, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", messageType, err)
	}
	message.Payload = encoded
	return message, nil
}

// ConnectionPayload decodes the message payload.
func (m Message) ConnectionPayload() (ConnectionPayload, error) {
	var payload ConnectionPayload
	if len(m.Payload) == 0 {
		return payload, fmt.Errorf("%s without payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return payload, nil
}

// ErrorMessage returns the human-readable text of an ERROR or ID-TAKEN
// payload.
func (m Message) ErrorMessage() string {
	var payload ErrorPayload
	if len(m.Payload) > 0 && json.Unmarshal(m.Payload, &payload) == nil && payload.Msg != "" {
		return payload.Msg
	}
	return string(m.Type)
}

// ErrIDTaken is reported when another client holds the registration id.
var ErrIDTaken = errors.New("signaling: id is taken")

// ErrPeerUnavailable is reported when an offer's destination is not
// registered.
var ErrPeerUnavailable = errors.New("signaling: peer unavailable")

// ErrRejected is reported when the host refuses the offer.
var ErrRejected = errors.New("signaling: offer rejected by peer")

// SocketURL builds the registration URL for base, e.g.
// wss://0.peerjs.com/peerjs?key=peerjs&id=...&token=....
func SocketURL(base, key, id, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing signaling URL %q: %w", base, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("signaling URL %q must use ws or wss", base)
	}
	query := parsed.Query()
	query.Set("key", key)
	query.Set("id", id)
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
