package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after a kill.
const waitDelay = 5 * time.Second

// ErrTimeout is returned when a command outlives its deadline.
var ErrTimeout = errors.New("command timed out")

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited %d: %s", e.Name, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited %d", e.Name, e.Code)
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Command describes how to run an external program.
type Command struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	// Timeout bounds the run. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// Run executes name with args and waits for it to finish.
// Non-zero exits return *ExitError, deadline expiry returns ErrTimeout.
// On expiry the whole process group is killed so helper processes
// spawned by the program do not outlive it.
func (c Command) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: argv comes from operator config
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		return res, fmt.Errorf("%w: %s after %s", ErrTimeout, name, c.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &ExitError{Name: name, Code: exitErr.ExitCode(), Stderr: res.Stderr}
		}
		return res, fmt.Errorf("running %s: %w", name, err)
	}
	return res, nil
}

// ExecWithOutput runs a command in workDir and returns trimmed stdout.
// If the command fails, stderr content is included in the error message.
func ExecWithOutput(ctx context.Context, workDir, name string, args ...string) (string, error) {
	res, err := Command{Dir: workDir}.Run(ctx, name, args...)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// ExpandArgs substitutes {key} placeholders in an argv template. An element
// that is exactly "{key}" with a list value expands to that many arguments.
func ExpandArgs(template []string, scalars map[string]string, lists map[string][]string) []string {
	out := make([]string, 0, len(template))
	for _, arg := range template {
		if strings.HasPrefix(arg, "{") && strings.HasSuffix(arg, "}") {
			if list, ok := lists[arg[1:len(arg)-1]]; ok {
				out = append(out, list...)
				continue
			}
		}
		for k, v := range scalars {
			arg = strings.ReplaceAll(arg, "{"+k+"}", v)
		}
		out = append(out, arg)
	}
	return out
}
