// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomcrypt encrypts chat payloads under a key both peers derive
// from the KEY segment of the session code.
//
// [DeriveKey] runs PBKDF2-HMAC-SHA256 for [Iterations] rounds over the
// seed with one salt shared by every session, so two peers holding the
// same code agree on the key without exchanging anything. The fixed salt
// means a precomputed table over the small seed space applies to all
// rooms at once; this is a known limitation of zero-handshake agreement.
//
// [Encrypt] seals with AES-256-GCM under a fresh random 96-bit IV per
// call, matching the browser WebCrypto peers. [Decrypt] returns a
// [*DecryptError] on any authentication failure; callers show a
// placeholder and keep the session running.
package roomcrypt
