// Package watch is a live terminal view of every material's workflow.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/calcflow/calcflow/internal/engine"
)

// loadTimeout bounds one refresh.
const loadTimeout = 10 * time.Second

// StepItem is one plan step of a material.
type StepItem struct {
	Token    string
	State    engine.StepState
	JobID    string
	Reason   string
	Critical bool
}

// MaterialItem is a material with its plan steps.
type MaterialItem struct {
	ID         string
	WorkflowID string
	Steps      []StepItem
	Done       int
	Blocked    bool
	Complete   bool
	Expanded   bool
}

// Progress renders "done/total".
func (m MaterialItem) Progress() string {
	return fmt.Sprintf("%d/%d", m.Done, len(m.Steps))
}

// LoadFunc fetches the current state of every material.
type LoadFunc func(ctx context.Context) ([]MaterialItem, error)

// StatusSource is the engine surface the default loader reads.
type StatusSource interface {
	WorkflowStatus(ctx context.Context, materialID string) (*engine.Status, error)
}

// MaterialLister lists material ids.
type MaterialLister func(ctx context.Context) ([]string, error)

// EngineLoader builds a LoadFunc over WorkflowStatus.
func EngineLoader(src StatusSource, list MaterialLister) LoadFunc {
	return func(ctx context.Context) ([]MaterialItem, error) {
		ids, err := list(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing materials: %w", err)
		}
		items := make([]MaterialItem, 0, len(ids))
		for _, id := range ids {
			st, err := src.WorkflowStatus(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", id, err)
			}
			items = append(items, FromStatus(st))
		}
		return items, nil
	}
}

// FromStatus converts an engine report into a view item.
func FromStatus(st *engine.Status) MaterialItem {
	item := MaterialItem{
		ID:         st.Material.ID,
		WorkflowID: st.WorkflowID,
		Blocked:    st.Blocked,
		Complete:   st.Complete,
	}
	for _, s := range st.Steps {
		step := StepItem{Token: s.Token, State: s.State, Reason: s.Reason, Critical: s.Critical}
		if s.Calc != nil {
			step.JobID = s.Calc.JobID
		}
		if s.State == engine.StateCompleted {
			item.Done++
		}
		item.Steps = append(item.Steps, step)
	}
	return item
}

// Model is the bubbletea model for the watch view.
type Model struct {
	materials []MaterialItem
	cursor    int // index into the flattened rows
	load      LoadFunc
	interval  time.Duration
	updated   time.Time
	err       error

	keys     KeyMap
	help     help.Model
	showHelp bool
	width    int
	height   int
}

// New creates a watch model that reloads every interval.
func New(load LoadFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return Model{
		load:     load,
		interval: interval,
		keys:     DefaultKeyMap(),
		help:     help.New(),
	}
}

// Init loads the first snapshot.
func (m Model) Init() tea.Cmd {
	return m.fetch
}

type fetchMsg struct {
	materials []MaterialItem
	err       error
	at        time.Time
}

type tickMsg time.Time

func (m Model) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	materials, err := m.load(ctx)
	return fetchMsg{materials: materials, err: err, at: time.Now()}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case fetchMsg:
		m.err = msg.err
		if msg.err == nil {
			m.materials = keepExpanded(m.materials, msg.materials)
			m.updated = msg.at
			if max := m.maxCursor(); m.cursor > max {
				m.cursor = max
			}
		}
		return m, m.tick()

	case tickMsg:
		return m, m.fetch

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp

		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}

		case key.Matches(msg, m.keys.Down):
			if m.cursor < m.maxCursor() {
				m.cursor++
			}

		case key.Matches(msg, m.keys.Top):
			m.cursor = 0

		case key.Matches(msg, m.keys.Bottom):
			m.cursor = m.maxCursor()

		case key.Matches(msg, m.keys.Toggle):
			m.toggleExpand()

		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch
		}
	}
	return m, nil
}

// keepExpanded carries expansion state across refreshes.
func keepExpanded(old, fresh []MaterialItem) []MaterialItem {
	expanded := make(map[string]bool, len(old))
	for _, m := range old {
		if m.Expanded {
			expanded[m.ID] = true
		}
	}
	for i := range fresh {
		fresh[i].Expanded = expanded[fresh[i].ID]
	}
	return fresh
}

func (m Model) maxCursor() int {
	count := 0
	for _, mat := range m.materials {
		count++
		if mat.Expanded {
			count += len(mat.Steps)
		}
	}
	if count == 0 {
		return 0
	}
	return count - 1
}

// cursorIndex maps the cursor to (material, step); step is -1 on a material row.
func (m Model) cursorIndex() (int, int) {
	pos := 0
	for mi, mat := range m.materials {
		if pos == m.cursor {
			return mi, -1
		}
		pos++
		if mat.Expanded {
			for si := range mat.Steps {
				if pos == m.cursor {
					return mi, si
				}
				pos++
			}
		}
	}
	return -1, -1
}

func (m *Model) toggleExpand() {
	mi, si := m.cursorIndex()
	if mi >= 0 && si == -1 {
		m.materials[mi].Expanded = !m.materials[mi].Expanded
	}
}

// View renders the model.
func (m Model) View() string {
	return m.renderView()
}
