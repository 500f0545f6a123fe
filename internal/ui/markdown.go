package ui

import (
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// DefaultWrapWidth is used when ui.wrap_width is unset.
const DefaultWrapWidth = 100

// RenderMarkdown renders a workflow description for the terminal, wrapped
// at the terminal width or maxWidth, whichever is smaller. The glamour
// style follows the resolved theme. Plain mode and rendering errors return
// the text unchanged.
func RenderMarkdown(markdown string, maxWidth int) string {
	if IsPlainMode() || !ShouldUseColor() {
		return markdown
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(markdownStyle()),
		glamour.WithWordWrap(wrapWidth(terminalWidth(), maxWidth)),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}

func markdownStyle() string {
	if HasDarkBackground() {
		return "dark"
	}
	return "light"
}

// wrapWidth caps the terminal width (0 if unknown) at maxWidth.
func wrapWidth(termWidth, maxWidth int) int {
	if maxWidth <= 0 {
		maxWidth = DefaultWrapWidth
	}
	if termWidth <= 0 {
		return min(80, maxWidth)
	}
	return min(termWidth, maxWidth)
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}
