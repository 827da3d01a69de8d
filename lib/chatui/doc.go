// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chatui is the terminal front end for a chat session. Built on
// bubbletea (Elm architecture), it renders a [session.Snapshot] as a
// Windows 95 styled chat window: title bar with the session code, the
// scrollable message log, a remote typing line, the input box and a
// status bar.
//
// The model never owns session state. It reads Snapshot after every
// notification from Changes and forwards user input to the controller
// (SendChatMessage, OnTypingInput, SetForeground). Background log
// records reach the status bar through [TUILogHandler].
package chatui
