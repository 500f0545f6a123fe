package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOff disables paging when used as the pager command.
const PagerOff = "off"

// Pager sends long command output through an external pager.
type Pager struct {
	// Command is the configured pager (ui.pager). Empty falls back to
	// $PAGER, then less. CALCFLOW_PAGER overrides it and CALCFLOW_NO_PAGER
	// turns paging off.
	Command string

	// Disabled is set by --no-pager.
	Disabled bool

	Out io.Writer

	// Height is the terminal height in lines, 0 when Out is not a terminal.
	Height int
}

// NewPager returns a Pager writing to stdout.
func NewPager(command string, disabled bool) *Pager {
	return &Pager{
		Command:  command,
		Disabled: disabled,
		Out:      os.Stdout,
		Height:   stdoutHeight(),
	}
}

// argv resolves the pager command line. ok is false when paging is off.
func (p *Pager) argv() ([]string, bool) {
	if p.Disabled || os.Getenv("CALCFLOW_NO_PAGER") != "" {
		return nil, false
	}
	var command string
	for _, c := range []string{os.Getenv("CALCFLOW_PAGER"), p.Command, os.Getenv("PAGER"), "less"} {
		if strings.TrimSpace(c) != "" {
			command = c
			break
		}
	}
	if strings.EqualFold(strings.TrimSpace(command), PagerOff) {
		return nil, false
	}
	parts := strings.Fields(command)
	return parts, len(parts) > 0
}

// Page writes content, through the pager when it would not fit on screen.
func (p *Pager) Page(content string) error {
	parts, ok := p.argv()
	// One line is left for the prompt.
	if !ok || p.Height <= 0 || lineCount(content) < p.Height {
		_, err := fmt.Fprint(p.Out, content)
		return err
	}

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = p.Out
	cmd.Stderr = os.Stderr
	if os.Getenv("LESS") == "" {
		// Keep colors, quit on one screen, leave the screen alone.
		cmd.Env = append(os.Environ(), "LESS=-RFX")
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running pager %s: %w", parts[0], err)
	}
	return nil
}

func stdoutHeight() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	_, height, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return height
}

func lineCount(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
