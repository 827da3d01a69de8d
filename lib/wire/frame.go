// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType tags a Frame.
type MessageType string

const (
	TypeChat        MessageType = "CHAT"
	TypeSystem      MessageType = "SYSTEM"
	TypeJoin        MessageType = "JOIN"
	TypeLeave       MessageType = "LEAVE"
	TypeTyping      MessageType = "TYPING"
	TypeReadReceipt MessageType = "READ_RECEIPT"
)

// Known reports whether t is one of the defined message types.
func (t MessageType) Known() bool {
	switch t {
	case TypeChat, TypeSystem, TypeJoin, TypeLeave, TypeTyping, TypeReadReceipt:
		return true
	}
	return false
}

// Encrypted reports whether frames of type t carry an encrypted payload.
func (t MessageType) Encrypted() bool {
	return t == TypeChat || t == TypeSystem
}

var (
	// ErrUnknownType is returned when a frame carries a type this client
	// does not understand. Receivers log and drop such frames.
	ErrUnknownType = errors.New("wire: unknown message type")

	// ErrMalformed is returned for frames that decode but violate the
	// shape their type requires.
	ErrMalformed = errors.New("wire: malformed frame")
)

// EncryptedPayload is an AEAD output: a per-message IV and the
// ciphertext with its authentication tag appended.
type EncryptedPayload struct {
	IV   ByteArray `json:"iv"`
	Data ByteArray `json:"data"`
}

// Frame is one message on the wire.
type Frame struct {
	Type      MessageType       `json:"type"`
	Payload   *EncryptedPayload `json:"payload,omitempty"`
	Sender    string            `json:"sender,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
}

// Validate checks that the frame's fields fit its type.
func (f Frame) Validate() error {
	if !f.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	if f.Type.Encrypted() && (f.Payload == nil || len(f.Payload.Data) == 0) {
		return fmt.Errorf("%w: %s frame without payload", ErrMalformed, f.Type)
	}
	if f.Type == TypeReadReceipt && f.MessageID == "" {
		return fmt.Errorf("%w: read receipt without message id", ErrMalformed)
	}
	return nil
}

// ByteArray is a byte slice whose JSON form is an array of numbers.
// CBOR encodes it as a byte string.
type ByteArray []byte

// MarshalJSON encodes the bytes as [n, n, ...].
func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	numbers := make([]uint16, len(b))
	for index, value := range b {
		numbers[index] = uint16(value)
	}
	return json.Marshal(numbers)
}

// UnmarshalJSON decodes an array of numbers in [0, 255].
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var numbers []int
	if err := json.Unmarshal(data, &numbers); err != nil {
		return fmt.Errorf("%w: byte array: %v", ErrMalformed, err)
	}
	decoded := make([]byte, len(numbers))
	for index, number := range numbers {
		if number < 0 || number > 255 {
			return fmt.Errorf("%w: byte array element %d out of range: %d", ErrMalformed, index, number)
		}
		decoded[index] = byte(number)
	}
	*b = decoded
	return nil
}
