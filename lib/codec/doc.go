// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration.
//
// Browsers speak JSON on the wire, so JSON stays the default frame
// encoding. CBOR is the compact alternative for Go-to-Go sessions and is
// always encoded with Core Deterministic Encoding (RFC 8949 §4.2): the
// same frame produces the same bytes on every peer. Types carry `json`
// tags only; fxamacker/cbor falls back to them, so one tag set controls
// both encodings.
package codec
