// Package ui provides terminal styling for calcflow CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	} else {
		lipgloss.SetColorProfile(termenv.TrueColor)
	}
}

// ApplyThemeMode applies the theme mode settings to lipgloss.
// Call after InitTheme.
func ApplyThemeMode() {
	if !ShouldUseColor() {
		return
	}
	lipgloss.SetHasDarkBackground(HasDarkBackground())
}

// Ayu theme color palette
// Source: https://github.com/ayu-theme/ayu-colors
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}

	// Calculation states. Queued work stays plain; only states that
	// need a glance get color.
	ColorStateActive = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorStateDone = lipgloss.AdaptiveColor{
		Light: "#9099a1",
		Dark:  "#8090a0",
	}
	ColorStateFailed = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f26d78",
	}
	ColorStateSubmitted = lipgloss.AdaptiveColor{
		Light: "#59c2ff",
		Dark:  "#59c2ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	BoldStyle   = lipgloss.NewStyle().Bold(true)

	// CategoryStyle for section headers
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

	// CommandStyle for command and flag names in help output
	CommandStyle = lipgloss.NewStyle().Foreground(ColorPass)
)

var (
	StateActiveStyle    = lipgloss.NewStyle().Foreground(ColorStateActive)
	StateDoneStyle      = lipgloss.NewStyle().Foreground(ColorStateDone)
	StateFailedStyle    = lipgloss.NewStyle().Foreground(ColorStateFailed)
	StateCriticalStyle  = lipgloss.NewStyle().Foreground(ColorStateFailed).Bold(true)
	StateSubmittedStyle = lipgloss.NewStyle().Foreground(ColorStateSubmitted)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✖"
)

// Step state icons
const (
	StepIconNotStarted = "○"
	StepIconQueued     = "◌"
	StepIconActive     = "◐"
	StepIconDone       = "✓"
	StepIconFailed     = "✖"
	StepIconBlocked    = "●"
)

// RenderFail renders text with fail (red) styling
func RenderFail(s string) string {
	return FailStyle.Render(s)
}

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string {
	return MutedStyle.Render(s)
}

// RenderAccent renders text with accent (blue) styling
func RenderAccent(s string) string {
	return AccentStyle.Render(s)
}

// RenderCategory renders a category header in uppercase with accent color
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderCommand renders a command or flag name
func RenderCommand(s string) string {
	return CommandStyle.Render(s)
}

func RenderPassIcon() string {
	return PassStyle.Render(IconPass)
}

func RenderFailIcon() string {
	return FailStyle.Render(IconFail)
}

var titleCaser = cases.Title(language.English)

// StatusLabel turns a state name like "generation_failed" into "Generation Failed".
func StatusLabel(state string) string {
	return titleCaser.String(strings.ReplaceAll(state, "_", " "))
}

// GetStepIcon returns the unstyled icon for a step or calculation state.
func GetStepIcon(state string) string {
	switch state {
	case "not_started":
		return StepIconNotStarted
	case "pending":
		return StepIconQueued
	case "submitted", "running":
		return StepIconActive
	case "completed":
		return StepIconDone
	case "failed", "generation_failed":
		return StepIconFailed
	case "blocked":
		return StepIconBlocked
	default:
		return "?"
	}
}

// GetStepStyle returns the style for a step or calculation state.
func GetStepStyle(state string) lipgloss.Style {
	switch state {
	case "submitted":
		return StateSubmittedStyle
	case "running":
		return StateActiveStyle
	case "completed":
		return StateDoneStyle
	case "failed", "generation_failed", "blocked":
		return StateFailedStyle
	case "not_started":
		return MutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

// RenderStepIcon renders the state icon with its color.
func RenderStepIcon(state string) string {
	return GetStepStyle(state).Render(GetStepIcon(state))
}

// RenderStepState renders a state label. Critical failures are bold and
// marked so they stand out from optional ones.
func RenderStepState(state string, critical bool) string {
	label := StatusLabel(state)
	if critical {
		return StateCriticalStyle.Render(label + " (critical)")
	}
	return GetStepStyle(state).Render(label)
}
