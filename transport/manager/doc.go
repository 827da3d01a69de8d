// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager keeps one transport link alive for a chat session.
//
// A [Manager] owns an ordered list of candidate endpoints and at most one
// live [transport.Adapter]. It connects to the current candidate and
// gives it a fixed time to report EventOpen. A candidate that fails or
// times out is left, and the manager moves to the next one (wrapping
// around), reporting each move as a StatusFailover event. After a full
// pass with no success it waits a bounded, doubling backoff before
// trying again. It never gives up on its own.
//
// Once a link is up, adapter events (peer join/leave, frames, runtime
// errors) are forwarded on the manager's event channel. An unexpected
// EventClose is reported as StatusLinkLost, and after the reconnect
// delay the manager resumes cycling at the same candidate.
//
// Stop is the only way a manager ends: it cancels the cycle, leaves the
// live adapter, and waits for the cycling goroutine to exit.
package manager
