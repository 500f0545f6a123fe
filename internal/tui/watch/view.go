package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/ui"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(ui.ColorAccent)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("15"))
	helpStyle     = lipgloss.NewStyle().Foreground(ui.ColorMuted)
)

func (m Model) renderView() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Workflows"))
	if !m.updated.IsZero() {
		b.WriteString(helpStyle.Render("  updated " + m.updated.Format("15:04:05")))
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(ui.RenderFail(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
	}

	if len(m.materials) == 0 && m.err == nil {
		b.WriteString("No materials enrolled.\n")
		b.WriteString("Add one with: calcflow material add <id> <structure-file> --workflow <id>\n")
	}

	pos := 0
	for mi, mat := range m.materials {
		expandIcon := "▶"
		if mat.Expanded {
			expandIcon = "▼"
		}
		line := fmt.Sprintf("%s %d. %s %s %s %s",
			expandIcon, mi+1, materialIcon(mat), mat.ID,
			helpStyle.Render(mat.WorkflowID),
			helpStyle.Render("("+mat.Progress()+")"))
		b.WriteString(m.row(pos, line))
		pos++

		if !mat.Expanded {
			continue
		}
		for si, step := range mat.Steps {
			connector := "├─"
			if si == len(mat.Steps)-1 {
				connector = "└─"
			}
			detail := step.JobID
			if step.Reason != "" {
				detail = step.Reason
			}
			stepLine := fmt.Sprintf("  %s %s %-18s %s %s",
				connector, ui.RenderStepIcon(string(step.State)), step.Token,
				ui.RenderStepState(string(step.State), step.Critical),
				helpStyle.Render(truncate(detail, 50)))
			b.WriteString(m.row(pos, stepLine))
			pos++
		}
	}

	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help.View(m.keys))
	} else {
		b.WriteString(helpStyle.Render("j/k:navigate  enter:expand  r:refresh  q:quit  ?:help"))
	}
	return b.String()
}

func (m Model) row(pos int, line string) string {
	if pos == m.cursor {
		return selectedStyle.Render(line) + "\n"
	}
	return line + "\n"
}

func materialIcon(m MaterialItem) string {
	switch {
	case m.Blocked:
		return ui.RenderFailIcon()
	case m.Complete:
		return ui.RenderPassIcon()
	}
	for _, s := range m.Steps {
		if s.State == engine.StateRunning || s.State == engine.StateSubmitted {
			return ui.RenderStepIcon(string(engine.StateRunning))
		}
	}
	return ui.RenderStepIcon(string(engine.StateNotStarted))
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}
