// Package style renders calcflow's command output: message prefixes,
// notices, tables and the per-step status table. Colors come from the
// palette in internal/ui.
package style

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/calcflow/calcflow/internal/ui"
)

var (
	Success = lipgloss.NewStyle().Foreground(ui.ColorPass).Bold(true)
	Warning = lipgloss.NewStyle().Foreground(ui.ColorWarn).Bold(true)
	Error   = lipgloss.NewStyle().Foreground(ui.ColorFail).Bold(true)
	Info    = lipgloss.NewStyle().Foreground(ui.ColorAccent)
	Dim     = lipgloss.NewStyle().Foreground(ui.ColorMuted)
	Bold    = lipgloss.NewStyle().Bold(true)

	// Optional marks steps whose failure does not halt the workflow.
	Optional = Dim.Italic(true)
)

// Line prefixes for command results.
var (
	SuccessPrefix = Success.Render(ui.IconPass)
	WarningPrefix = Warning.Render(ui.IconWarn)
	ErrorPrefix   = Error.Render(ui.IconFail)
	ArrowPrefix   = Info.Render("→")
)

// Level grades a notice.
type Level int

const (
	// LevelWarning is something to look at; the workflow goes on.
	LevelWarning Level = iota
	// LevelCritical is a required step that failed for good.
	LevelCritical
)

func (l Level) label() string {
	if l == LevelCritical {
		return Error.Render(ui.IconFail + " CRITICAL:")
	}
	return Warning.Render(ui.IconWarn + " Warning:")
}

// Fnotice writes a labelled one-line notice to w.
func Fnotice(w io.Writer, level Level, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", level.label(), fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning notice to stdout.
func PrintWarning(format string, args ...any) {
	Fnotice(os.Stdout, LevelWarning, format, args...)
}

// PrintCritical prints a notice about a failure that stops a workflow.
func PrintCritical(format string, args ...any) {
	Fnotice(os.Stdout, LevelCritical, format, args...)
}

// SuggestionBox renders an unknown-name error with "did you mean" choices
// and an optional hint.
func SuggestionBox(message string, suggestions []string, hint string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s %s\n", ErrorPrefix, message)
	if len(suggestions) > 0 {
		sb.WriteString("\n  Did you mean?\n")
		for _, s := range suggestions {
			fmt.Fprintf(&sb, "    • %s\n", s)
		}
	}
	if hint != "" {
		fmt.Fprintf(&sb, "\n  %s\n", Dim.Render(hint))
	}
	return sb.String()
}

// ProgressBar renders percent (clamped to 0..100) as a bar width cells wide.
func ProgressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	return fmt.Sprintf("[%s%s] %d%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), percent)
}
