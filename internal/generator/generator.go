// Package generator runs the external input generator.
//
// The generator converts a finished calculation's output (or a material's
// source structure for the first step) into the input artifact for the next
// calculation kind. It is expected to write exactly one new input file into
// the output directory, named after the target kind, or exit non-zero.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calcflow/calcflow/internal/util"
)

// DefaultArgv is used when no generator command is configured.
var DefaultArgv = []string{"calcflow-gen", "--source", "{source}", "--kind", "{kind}", "--outdir", "{outdir}", "{args}"}

// DefaultTimeout bounds one generator run.
const DefaultTimeout = 10 * time.Minute

// Request describes one generation.
type Request struct {
	MaterialID string

	// Source is the artifact to convert, already copied into OutDir.
	Source string

	// Kind is the target base kind, Token the canonical target token.
	Kind  string
	Token string

	OutDir string

	// Args are extra generator arguments (kind flags and plan overrides).
	Args []string
}

// Generator produces an input artifact for a target calculation kind.
type Generator interface {
	Generate(ctx context.Context, req Request) error
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, req Request) error

func (f Func) Generate(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// CommandGenerator runs an external program built from an argv template.
// Placeholders: {source}, {kind}, {token}, {outdir}, {material}; an argument
// that is exactly "{args}" expands to the request's extra arguments.
type CommandGenerator struct {
	Argv    []string
	Env     []string
	Timeout time.Duration
}

// NewCommand creates a CommandGenerator. An empty argv uses DefaultArgv.
func NewCommand(argv []string, env []string, timeout time.Duration) (*CommandGenerator, error) {
	if len(argv) == 0 {
		argv = DefaultArgv
	}
	if argv[0] == "" {
		return nil, errors.New("generator: command is empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandGenerator{Argv: argv, Env: env, Timeout: timeout}, nil
}

// Generate runs the generator in the request's output directory.
func (g *CommandGenerator) Generate(ctx context.Context, req Request) error {
	args := g.args(req)
	_, err := util.Command{Dir: req.OutDir, Env: g.Env, Timeout: g.Timeout}.Run(ctx, args[0], args[1:]...)
	if err != nil {
		return fmt.Errorf("generating %s for %s: %w", req.Token, req.MaterialID, err)
	}
	return nil
}

func (g *CommandGenerator) args(req Request) []string {
	return util.ExpandArgs(g.Argv,
		map[string]string{
			"source":   req.Source,
			"kind":     req.Kind,
			"token":    req.Token,
			"outdir":   req.OutDir,
			"material": req.MaterialID,
		},
		map[string][]string{"args": req.Args},
	)
}
