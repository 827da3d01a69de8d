// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock safety valves shared by tests.
//
// Tests drive timers through lib/clock. The helpers here bound waits on
// goroutines that run on real time anyway (network loopback, pion ICE,
// WebSocket servers) so a broken test fails instead of hanging. They
// call t.Fatalf on timeout.
package testutil
