// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Type      string `json:"type"`
	Sender    string `json:"sender,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	first, err := Marshal(map[string]any{"type": "CHAT", "sender": "ada", "messageId": "m1"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for index := 0; index < 10; index++ {
		again, err := Marshal(map[string]any{"messageId": "m1", "sender": "ada", "type": "CHAT"})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs: %x vs %x", index, again, first)
		}
	}
}

func TestJSONTagsControlFieldNames(t *testing.T) {
	data, err := Marshal(sample{Type: "TYPING", Sender: "bob"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["type"] != "TYPING" || decoded["sender"] != "bob" {
		t.Errorf("decoded = %v", decoded)
	}
	if _, present := decoded["messageId"]; present {
		t.Error("omitempty field was encoded")
	}

	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !bytes.Contains([]byte(diagnostic), []byte(`"TYPING"`)) {
		t.Errorf("diagnostic %q does not mention the type", diagnostic)
	}
}
