// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/davidryuky/Retro-Chat-95/lib/codec"
)

// Codec turns frames into transport bytes and back. Decode validates the
// result, so callers only see well-formed frames or an error wrapping
// ErrUnknownType or ErrMalformed.
type Codec interface {
	Name() string
	Encode(frame Frame) ([]byte, error)
	Decode(data []byte) (Frame, error)
}

var (
	// JSON is the browser-compatible encoding.
	JSON Codec = jsonCodec{}

	// CBOR is the compact deterministic encoding.
	CBOR Codec = cborCodec{}
)

// CodecByName resolves a configured encoding name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, fmt.Errorf("wire: unknown encoding %q (want json or cbor)", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}

func (jsonCodec) Decode(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return frame, frame.Validate()
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Encode(frame Frame) ([]byte, error) {
	return codec.Marshal(frame)
}

func (cborCodec) Decode(data []byte) (Frame, error) {
	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return frame, frame.Validate()
}
