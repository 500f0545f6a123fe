package watch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/store"
)

func sample() []MaterialItem {
	return []MaterialItem{
		{ID: "mgo", WorkflowID: "full", Done: 1, Steps: []StepItem{
			{Token: "OPT", State: engine.StateCompleted},
			{Token: "SP", State: engine.StateRunning, JobID: "1002"},
		}},
		{ID: "nacl", WorkflowID: "full", Blocked: true, Steps: []StepItem{
			{Token: "OPT", State: engine.StateGenerationFailed, Reason: "generator exited 1", Critical: true},
		}},
	}
}

func loaded(t *testing.T, items []MaterialItem) Model {
	t.Helper()
	m := New(func(context.Context) ([]MaterialItem, error) { return items, nil }, time.Second)
	next, cmd := m.Update(m.fetch())
	if cmd == nil {
		t.Fatal("expected a refresh tick to be scheduled")
	}
	return next.(Model)
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestModel_NavigateAndExpand(t *testing.T) {
	m := loaded(t, sample())
	if got := m.maxCursor(); got != 1 {
		t.Fatalf("maxCursor = %d, want 1", got)
	}

	m = press(m, "enter")
	if !m.materials[0].Expanded {
		t.Fatal("enter should expand the first material")
	}
	if got := m.maxCursor(); got != 3 {
		t.Fatalf("maxCursor after expand = %d, want 3", got)
	}

	m = press(m, "j", "j")
	if mi, si := m.cursorIndex(); mi != 0 || si != 1 {
		t.Errorf("cursorIndex = (%d, %d), want (0, 1)", mi, si)
	}
	m = press(m, "G")
	if mi, si := m.cursorIndex(); mi != 1 || si != -1 {
		t.Errorf("cursorIndex = (%d, %d), want (1, -1)", mi, si)
	}
	m = press(m, "g")
	if m.cursor != 0 {
		t.Errorf("cursor = %d after g", m.cursor)
	}

	view := m.View()
	for _, want := range []string{"mgo", "nacl", "(1/2)", "SP", "1002"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_RefreshKeepsExpansion(t *testing.T) {
	m := loaded(t, sample())
	m = press(m, "enter")

	next, _ := m.Update(fetchMsg{materials: sample(), at: time.Now()})
	m = next.(Model)
	if !m.materials[0].Expanded {
		t.Error("expansion lost on refresh")
	}
}

func TestModel_LoadError(t *testing.T) {
	m := New(func(context.Context) ([]MaterialItem, error) { return nil, errors.New("store locked") }, time.Second)
	next, _ := m.Update(m.fetch())
	m = next.(Model)
	if !strings.Contains(m.View(), "store locked") {
		t.Errorf("view does not show the error:\n%s", m.View())
	}
}

func TestModel_Quit(t *testing.T) {
	m := loaded(t, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if !strings.Contains(m.View(), "No materials enrolled") {
		t.Error("empty state not rendered")
	}
}

func TestFromStatus(t *testing.T) {
	st := &engine.Status{
		Material:   &store.Material{ID: "si"},
		WorkflowID: "opt_sp",
		Steps: []engine.StepStatus{
			{Token: "OPT", State: engine.StateCompleted, Calc: &store.Calculation{JobID: "7"}},
			{Token: "SP", State: engine.StateSubmitted, Calc: &store.Calculation{JobID: "8"}},
		},
	}
	item := FromStatus(st)
	if item.Progress() != "1/2" {
		t.Errorf("Progress = %q", item.Progress())
	}
	if item.Steps[1].JobID != "8" {
		t.Errorf("JobID = %q", item.Steps[1].JobID)
	}
}
