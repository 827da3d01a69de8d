// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessioncode turns the short code a host shares into the
// identity of a room.
//
// A [Code] is twelve characters: a six-character ID segment drawn from
// upper-case letters and digits, followed by a six-character KEY segment
// drawn from mixed-case letters and digits. Both alphabets leave out
// characters that are easy to misread (0/O/o, 1/I/l). The ID segment
// names the room on the shared signaling, tracker or relay namespace and
// is case-insensitive. The KEY segment seeds the room key and is never
// sent to any server.
//
// [Parse] is forgiving about how a code arrives (pasted share link,
// whitespace, dashes, lower-cased ID) but never pads or guesses: input
// with fewer than twelve usable characters is rejected with
// [ErrInvalidFormat].
package sessioncode
