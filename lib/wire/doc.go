// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the frames peers exchange over any transport.
//
// A [Frame] is a tagged union keyed by [MessageType]. CHAT and SYSTEM
// frames carry an [EncryptedPayload]; TYPING, READ_RECEIPT, JOIN and
// LEAVE are plaintext control frames. The sender name travels in clear:
// it is not confidential in this threat model.
//
// The JSON form matches what browser peers produce:
//
//	{"type":"CHAT","payload":{"iv":[12 numbers],"data":[...]},"sender":"ada","messageId":"..."}
//
// Byte fields are encoded as arrays of numbers, not base64, through
// [ByteArray]. [CBOR] is an alternative [Codec] for Go-only sessions.
package wire
