// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/davidryuky/Retro-Chat-95/session"
)

// Theme defines the chat window's colors. All colors use lipgloss ANSI
// 256-color codes for broad terminal compatibility.
type Theme struct {
	// Window chrome.
	TitleBackground lipgloss.Color
	TitleForeground lipgloss.Color
	WindowBorder    lipgloss.Color
	StatusBar       lipgloss.Color
	HelpText        lipgloss.Color

	// Message log.
	NormalText   lipgloss.Color
	FaintText    lipgloss.Color
	OwnName      lipgloss.Color
	PeerName     lipgloss.Color
	SystemText   lipgloss.Color
	ReadMark     lipgloss.Color
	WarningText  lipgloss.Color
	ErrorText    lipgloss.Color
	TypingAccent lipgloss.Color

	// Connection state colors.
	StateOffline    lipgloss.Color
	StateConnecting lipgloss.Color
	StateConnected  lipgloss.Color
	StateErrored    lipgloss.Color
}

// StateColor returns the color for a session state.
func (theme Theme) StateColor(state session.State) lipgloss.Color {
	switch state {
	case session.StateConnected:
		return theme.StateConnected
	case session.StateInitializing, session.StateConnecting, session.StateWaitingForPeer, session.StateReconnecting:
		return theme.StateConnecting
	case session.StateErrored:
		return theme.StateErrored
	default:
		return theme.StateOffline
	}
}

// DefaultTheme is the navy-title-bar, silver-window scheme.
var DefaultTheme = Theme{
	TitleBackground: lipgloss.Color("18"),  // navy
	TitleForeground: lipgloss.Color("255"), // white
	WindowBorder:    lipgloss.Color("250"), // silver
	StatusBar:       lipgloss.Color("244"),
	HelpText:        lipgloss.Color("241"),

	NormalText:   lipgloss.Color("252"),
	FaintText:    lipgloss.Color("245"),
	OwnName:      lipgloss.Color("30"),  // teal
	PeerName:     lipgloss.Color("75"),  // blue
	SystemText:   lipgloss.Color("243"), // gray
	ReadMark:     lipgloss.Color("114"), // green
	WarningText:  lipgloss.Color("220"), // amber
	ErrorText:    lipgloss.Color("196"), // red
	TypingAccent: lipgloss.Color("141"), // light purple

	StateOffline:    lipgloss.Color("245"),
	StateConnecting: lipgloss.Color("220"),
	StateConnected:  lipgloss.Color("114"),
	StateErrored:    lipgloss.Color("196"),
}
