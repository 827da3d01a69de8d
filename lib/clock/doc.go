// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets session and transport code schedule timers without
// touching the time package directly, so tests can drive typing expiry,
// send throttling, connect timeouts and reconnect delays deterministically.
//
// Production code receives [Real]. Tests construct a [FakeClock] with
// [Fake], start the code under test, call [FakeClock.WaitForTimers] until
// the expected timers are registered, and then [FakeClock.Advance] past
// their deadlines. AfterFunc callbacks run synchronously inside Advance.
package clock
