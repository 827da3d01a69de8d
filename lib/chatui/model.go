// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/davidryuky/Retro-Chat-95/session"
)

// Controller is the part of *session.Controller the model drives.
type Controller interface {
	Snapshot() session.Snapshot
	Changes() <-chan struct{}
	SendChatMessage(text string) error
	OnTypingInput()
	SetForeground(foreground bool)
}

// Compile-time interface check.
var _ Controller = (*session.Controller)(nil)

// changedMsg reports that the controller's state changed.
type changedMsg struct{}

// chromeHeight is the number of lines outside the message viewport:
// title, typing line, input, status bar and the input border.
const chromeHeight = 6

const inputPlaceholder = "Type a message..."

// Model is the bubbletea model for one chat window.
type Model struct {
	controller Controller
	theme      Theme
	keys       KeyMap

	snapshot session.Snapshot
	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int

	logSummary  string
	logLevel    slog.Level
	logSequence int
}

// NewModel creates a model bound to controller.
func NewModel(controller Controller) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 2000

	model := Model{
		controller: controller,
		theme:      DefaultTheme,
		keys:       DefaultKeyMap,
		viewport:   viewport.New(80, 20),
		input:      input,
		width:      80,
		height:     20 + chromeHeight,
	}
	model.refresh()
	return model
}

func (model Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, model.waitForChange())
}

// waitForChange blocks on the controller's change channel.
func (model Model) waitForChange() tea.Cmd {
	changes := model.controller.Changes()
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.layout()
		model.render()
		return model, nil

	case changedMsg:
		model.refresh()
		return model, model.waitForChange()

	case tea.FocusMsg:
		model.controller.SetForeground(true)
		return model, nil

	case tea.BlurMsg:
		model.controller.SetForeground(false)
		return model, nil

	case logRecordMsg:
		model.logSequence++
		model.logSummary = message.Summary
		model.logLevel = message.Level
		sequence := model.logSequence
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{Sequence: sequence}
		})

	case logRecordFadeMsg:
		if message.Sequence == model.logSequence {
			model.logSummary = ""
		}
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(message)
	}

	var command tea.Cmd
	model.input, command = model.input.Update(message)
	return model, command
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(message, model.keys.Send):
		if !model.snapshot.State.Live() {
			return model, nil
		}
		text := model.input.Value()
		err := model.controller.SendChatMessage(text)
		if err != nil && !errors.Is(err, session.ErrEmptyMessage) {
			model.logSummary = err.Error()
			model.logLevel = slog.LevelWarn
		}
		if err == nil {
			model.input.Reset()
		}
		model.refresh()
		return model, nil

	case key.Matches(message, model.keys.PageUp):
		model.viewport.HalfViewUp()
		return model, nil

	case key.Matches(message, model.keys.PageDown):
		model.viewport.HalfViewDown()
		return model, nil
	}

	before := model.input.Value()
	var command tea.Cmd
	model.input, command = model.input.Update(message)
	if model.input.Value() != before {
		model.controller.OnTypingInput()
	}
	return model, command
}

// refresh re-reads the controller and re-renders the log. The input box
// only takes keys while the session has a running link.
func (model *Model) refresh() {
	model.snapshot = model.controller.Snapshot()
	if model.snapshot.State.Live() {
		model.input.Focus()
		model.input.Placeholder = inputPlaceholder
	} else {
		model.input.Blur()
		model.input.Placeholder = "Session closed"
	}
	model.render()
}

func (model *Model) layout() {
	innerWidth := max(model.width-2, 10)
	model.viewport.Width = innerWidth
	model.viewport.Height = max(model.height-chromeHeight, 1)
	model.input.Width = max(innerWidth-4, 1)
}

// render fills the viewport from the snapshot, keeping the view pinned
// to the bottom when it already was.
func (model *Model) render() {
	atBottom := model.viewport.AtBottom()
	var lines []string
	for _, message := range model.snapshot.Messages {
		lines = append(lines, model.renderMessage(message))
	}
	model.viewport.SetContent(lipgloss.NewStyle().Width(model.viewport.Width).Render(strings.Join(lines, "\n")))
	if atBottom || model.viewport.TotalLineCount() <= model.viewport.Height {
		model.viewport.GotoBottom()
	}
}

func (model Model) renderMessage(message session.Message) string {
	stamp := lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(message.Timestamp.Format("15:04"))
	if message.System {
		text := lipgloss.NewStyle().Foreground(model.theme.SystemText).Italic(true).Render("* " + message.Content)
		return stamp + " " + text
	}

	nameColor := model.theme.PeerName
	if message.Outgoing {
		nameColor = model.theme.OwnName
	}
	name := lipgloss.NewStyle().Foreground(nameColor).Bold(true).Render(message.Sender + ":")
	line := stamp + " " + name + " " + lipgloss.NewStyle().Foreground(model.theme.NormalText).Render(message.Content)
	switch message.Status {
	case session.DeliverySent:
		line += " " + lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("✓")
	case session.DeliveryRead:
		line += " " + lipgloss.NewStyle().Foreground(model.theme.ReadMark).Render("✓✓")
	}
	return line
}

func (model Model) View() string {
	snapshot := model.snapshot
	width := max(model.width, 20)

	title := "Retro Chat 95"
	if snapshot.Code != "" {
		title += " - " + string(snapshot.Code)
	}
	if snapshot.PeerName != "" {
		title += " with " + snapshot.PeerName
	}
	titleBar := lipgloss.NewStyle().
		Background(model.theme.TitleBackground).
		Foreground(model.theme.TitleForeground).
		Bold(true).
		Width(width).
		Render(" " + title)

	typing := ""
	if snapshot.RemoteTyping {
		name := snapshot.PeerName
		if name == "" {
			name = "Peer"
		}
		typing = lipgloss.NewStyle().Foreground(model.theme.TypingAccent).Render(name + " is typing...")
	}

	inputBox := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(model.theme.WindowBorder).
		Width(max(width-2, 1)).
		Render(model.input.View())

	return lipgloss.JoinVertical(lipgloss.Left,
		titleBar,
		model.viewport.View(),
		typing,
		inputBox,
		model.statusBar(width),
	)
}

func (model Model) statusBar(width int) string {
	snapshot := model.snapshot
	state := lipgloss.NewStyle().Foreground(model.theme.StateColor(snapshot.State)).Render("● " + snapshot.State.String())

	text := snapshot.Status
	color := model.theme.StatusBar
	if model.logSummary != "" {
		text = model.logSummary
		color = model.theme.WarningText
		if model.logLevel >= slog.LevelError {
			color = model.theme.ErrorText
		}
	}
	if snapshot.Backend != "" {
		state += lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(fmt.Sprintf(" [%s]", snapshot.Backend))
	}
	help := lipgloss.NewStyle().Foreground(model.theme.HelpText).Render(
		model.keys.Send.Help().Key + " " + model.keys.Send.Help().Desc + "  " +
			model.keys.Quit.Help().Key + " " + model.keys.Quit.Help().Desc)
	line := state + "  " + lipgloss.NewStyle().Foreground(color).Render(text)
	if gap := width - lipgloss.Width(line) - lipgloss.Width(help); gap > 0 {
		line += strings.Repeat(" ", gap) + help
	}
	return line
}
