// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM and excluded
// from core dumps. The room key derived from a session code lives in one
// for the lifetime of the session and is zeroed by [Buffer.Close] when
// the session ends. Linux only (golang.org/x/sys/unix).
package secret
