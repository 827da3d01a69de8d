// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the chat session state machine.
//
// A [Controller] owns at most one live session. CreateSession (host) and
// JoinSession (guest) derive the room identity and key from a code,
// start a transport link, and run one dispatch goroutine that turns link
// events into state transitions and message log entries:
//
//	Offline -> Initializing -> WaitingForPeer (host) -> Connected
//	Offline -> Initializing -> Connecting (guest)    -> Connected
//	Connected -> Reconnecting -> Connected           (unexpected drop)
//	Initializing -> Errored                           (bad code or key)
//	any -> Offline                                    (Leave)
//
// Every session is described by an immutable [Context]. Handlers get the
// Context they were started for and drop their work when it is no
// longer current, so events and timers from a session that has been
// left cannot touch its successor.
//
// The UI reads state through [Controller.Snapshot] and waits for
// [Controller.Changes], which coalesces notifications.
package session
