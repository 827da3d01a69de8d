// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func chatFrame() Frame {
	return Frame{
		Type:      TypeChat,
		Payload:   &EncryptedPayload{IV: ByteArray{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, Data: ByteArray{0, 127, 255}},
		Sender:    "ada",
		MessageID: "m-1",
	}
}

func TestJSONEncodesBytesAsNumberArrays(t *testing.T) {
	data, err := JSON.Encode(chatFrame())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"iv":[1,2,3,4,5,6,7,8,9,10,11,12]`) {
		t.Errorf("iv not encoded as numbers: %s", text)
	}
	if !strings.Contains(text, `"data":[0,127,255]`) {
		t.Errorf("data not encoded as numbers: %s", text)
	}
	if !strings.Contains(text, `"messageId":"m-1"`) {
		t.Errorf("messageId missing: %s", text)
	}
}

func TestJSONDecodesBrowserFrame(t *testing.T) {
	input := `{"type":"READ_RECEIPT","messageId":"abc","sender":"bob"}`
	frame, err := JSON.Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != TypeReadReceipt || frame.MessageID != "abc" || frame.Payload != nil {
		t.Errorf("decoded %+v", frame)
	}
}

func TestCodecsAgree(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Encode(chatFrame())
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			frame, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(frame, chatFrame()) {
				t.Errorf("decoded %+v, want %+v", frame, chatFrame())
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"unknown type", `{"type":"WAVE"}`, ErrUnknownType},
		{"chat without payload", `{"type":"CHAT","sender":"a"}`, ErrMalformed},
		{"receipt without id", `{"type":"READ_RECEIPT"}`, ErrMalformed},
		{"byte out of range", `{"type":"CHAT","payload":{"iv":[1],"data":[300]}}`, ErrMalformed},
		{"not json", `hello`, ErrMalformed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := JSON.Decode([]byte(test.input))
			if !errors.Is(err, test.want) {
				t.Errorf("Decode(%s) error = %v, want %v", test.input, err, test.want)
			}
		})
	}
}

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]Codec{"": JSON, "json": JSON, "cbor": CBOR} {
		got, err := CodecByName(name)
		if err != nil || got != want {
			t.Errorf("CodecByName(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := CodecByName("xml"); err == nil {
		t.Error("CodecByName(xml) succeeded")
	}
}
