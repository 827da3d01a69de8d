// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/davidryuky/Retro-Chat-95/session"
)

type fakeController struct {
	snapshot   session.Snapshot
	changes    chan struct{}
	sent       []string
	typing     int
	foreground []bool
}

func newFakeController() *fakeController {
	return &fakeController{
		snapshot: session.Snapshot{State: session.StateConnected, Username: "Host", Code: "AB3DEF7xK2mQ"},
		changes:  make(chan struct{}, 1),
	}
}

func (c *fakeController) Snapshot() session.Snapshot { return c.snapshot }

func (c *fakeController) Changes() <-chan struct{} { return c.changes }

func (c *fakeController) SendChatMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return session.ErrEmptyMessage
	}
	c.sent = append(c.sent, text)
	c.snapshot.Messages = append(c.snapshot.Messages, session.Message{
		ID: "m", Sender: "Host", Content: text, Outgoing: true, Status: session.DeliverySent,
	})
	return nil
}

func (c *fakeController) OnTypingInput() { c.typing++ }

func (c *fakeController) SetForeground(foreground bool) {
	c.foreground = append(c.foreground, foreground)
}

func update(t *testing.T, model Model, message tea.Msg) Model {
	t.Helper()
	updated, _ := model.Update(message)
	result, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T", updated)
	}
	return result
}

func typeText(t *testing.T, model Model, text string) Model {
	t.Helper()
	for _, character := range text {
		model = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{character}})
	}
	return model
}

func TestModel_EnterSendsAndClearsInput(t *testing.T) {
	controller := newFakeController()
	model := update(t, NewModel(controller), tea.WindowSizeMsg{Width: 80, Height: 24})

	model = typeText(t, model, "hello")
	if controller.typing != 5 {
		t.Errorf("OnTypingInput called %d times, want 5", controller.typing)
	}
	model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})

	if len(controller.sent) != 1 || controller.sent[0] != "hello" {
		t.Fatalf("sent = %v, want [hello]", controller.sent)
	}
	if model.input.Value() != "" {
		t.Errorf("input = %q after send, want empty", model.input.Value())
	}
	if !strings.Contains(model.View(), "hello") {
		t.Error("sent message not rendered")
	}
}

func TestModel_EmptyEnterIsQuiet(t *testing.T) {
	controller := newFakeController()
	model := update(t, NewModel(controller), tea.KeyMsg{Type: tea.KeyEnter})
	if len(controller.sent) != 0 {
		t.Errorf("sent = %v, want nothing", controller.sent)
	}
	if model.logSummary != "" {
		t.Errorf("status shows %q for an empty message", model.logSummary)
	}
}

func TestModel_InputClosedWithoutLiveSession(t *testing.T) {
	controller := newFakeController()
	controller.snapshot.State = session.StateOffline
	model := NewModel(controller)

	model = typeText(t, model, "late")
	model = update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if controller.typing != 0 || len(controller.sent) != 0 {
		t.Errorf("offline session took input: typing=%d sent=%v", controller.typing, controller.sent)
	}
	if model.input.Value() != "" {
		t.Errorf("input = %q, want empty", model.input.Value())
	}

	controller.snapshot.State = session.StateConnected
	model = update(t, model, changedMsg{})
	model = typeText(t, model, "hi")
	update(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if len(controller.sent) != 1 || controller.sent[0] != "hi" {
		t.Errorf("sent = %v after reconnect, want [hi]", controller.sent)
	}
}

func TestModel_ScrollKeysDoNotCountAsTyping(t *testing.T) {
	controller := newFakeController()
	model := NewModel(controller)
	model = update(t, model, tea.KeyMsg{Type: tea.KeyPgUp})
	update(t, model, tea.KeyMsg{Type: tea.KeyPgDown})
	if controller.typing != 0 {
		t.Errorf("OnTypingInput called %d times for scroll keys", controller.typing)
	}
}

func TestModel_FocusTracksForeground(t *testing.T) {
	controller := newFakeController()
	model := NewModel(controller)
	model = update(t, model, tea.BlurMsg{})
	update(t, model, tea.FocusMsg{})
	if len(controller.foreground) != 2 || controller.foreground[0] || !controller.foreground[1] {
		t.Errorf("SetForeground calls = %v, want [false true]", controller.foreground)
	}
}

func TestModel_ChangeRefreshesView(t *testing.T) {
	controller := newFakeController()
	model := update(t, NewModel(controller), tea.WindowSizeMsg{Width: 100, Height: 30})

	controller.snapshot.PeerName = "Guest"
	controller.snapshot.RemoteTyping = true
	controller.snapshot.Messages = []session.Message{
		{ID: "1", Sender: "System", Content: "Guest joined", System: true, Timestamp: time.Unix(0, 0)},
		{ID: "2", Sender: "Guest", Content: "hi host", Timestamp: time.Unix(0, 0)},
		{ID: "3", Sender: "Host", Content: "hi guest", Outgoing: true, Status: session.DeliveryRead, Timestamp: time.Unix(0, 0)},
	}
	model = update(t, model, changedMsg{})

	view := model.View()
	for _, want := range []string{"AB3DEF7xK2mQ", "with Guest", "Guest joined", "hi host", "hi guest", "✓✓", "Guest is typing...", "connected"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q", want)
		}
	}
}

func TestModel_LogRecordFades(t *testing.T) {
	model := NewModel(newFakeController())
	model = update(t, model, logRecordMsg{Summary: "first"})
	model = update(t, model, logRecordMsg{Summary: "second"})

	model = update(t, model, logRecordFadeMsg{Sequence: 1})
	if model.logSummary != "second" {
		t.Fatalf("stale fade cleared the status: %q", model.logSummary)
	}
	model = update(t, model, logRecordFadeMsg{Sequence: 2})
	if model.logSummary != "" {
		t.Errorf("status = %q after fade, want empty", model.logSummary)
	}
}

func TestModel_QuitKey(t *testing.T) {
	_, command := NewModel(newFakeController()).Update(tea.KeyMsg{Type: tea.KeyEsc})
	if command == nil {
		t.Fatal("esc returned no command")
	}
	if _, ok := command().(tea.QuitMsg); !ok {
		t.Error("esc did not quit")
	}
}
