// Package scheduler submits job scripts to the external batch scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/calcflow/calcflow/internal/util"
)

// DefaultJobPattern matches Slurm's sbatch acknowledgement.
const DefaultJobPattern = `Submitted batch job (\d+)`

// DefaultArgv submits with sbatch.
var DefaultArgv = []string{"sbatch", "{script}"}

// DefaultTimeout bounds one submission.
const DefaultTimeout = 2 * time.Minute

// ErrNoJobID is returned when the scheduler accepted the command but
// printed nothing that matches the job pattern.
var ErrNoJobID = errors.New("no job id in scheduler output")

// Scheduler submits a job script and returns the scheduler's handle.
type Scheduler interface {
	Submit(ctx context.Context, script, dir string) (string, error)
}

// Func adapts a function to the Scheduler interface.
type Func func(ctx context.Context, script, dir string) (string, error)

func (f Func) Submit(ctx context.Context, script, dir string) (string, error) {
	return f(ctx, script, dir)
}

// CommandScheduler runs a submission command built from an argv template
// with {script} and {dir} placeholders.
type CommandScheduler struct {
	Argv    []string
	Env     []string
	Pattern *regexp.Regexp
	Timeout time.Duration
}

// NewCommand creates a CommandScheduler. Zero values take the defaults.
func NewCommand(argv []string, env []string, pattern string, timeout time.Duration) (*CommandScheduler, error) {
	if len(argv) == 0 {
		argv = DefaultArgv
	}
	if argv[0] == "" {
		return nil, errors.New("scheduler: command is empty")
	}
	if pattern == "" {
		pattern = DefaultJobPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("scheduler: compiling job pattern: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandScheduler{Argv: argv, Env: env, Pattern: re, Timeout: timeout}, nil
}

// Submit runs the submission command from dir and extracts the job id.
func (s *CommandScheduler) Submit(ctx context.Context, script, dir string) (string, error) {
	args := util.ExpandArgs(s.Argv, map[string]string{"script": script, "dir": dir}, nil)
	res, err := util.Command{Dir: dir, Env: s.Env, Timeout: s.Timeout}.Run(ctx, args[0], args[1:]...)
	if err != nil {
		return "", fmt.Errorf("submitting %s: %w", script, err)
	}
	id, ok := ExtractJobID(s.Pattern, res.Stdout+"\n"+res.Stderr)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoJobID, res.Stdout)
	}
	return id, nil
}

// ExtractJobID finds the job handle in scheduler output. The first capture
// group is the handle; a pattern without groups yields the whole match.
func ExtractJobID(re *regexp.Regexp, output string) (string, bool) {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	id := m[0]
	if len(m) > 1 {
		id = m[1]
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}
