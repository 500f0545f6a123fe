// Package recovery is the optional error-recovery capability applied to a
// failed calculation before it is resubmitted (for example, editing the
// input to loosen convergence criteria). It is resolved once at startup;
// a nil Recoverer means no recovery is configured.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/calcflow/calcflow/internal/store"
	"github.com/calcflow/calcflow/internal/util"
)

// DefaultTimeout bounds one recovery run.
const DefaultTimeout = 5 * time.Minute

// Recoverer prepares a failed calculation for resubmission.
type Recoverer interface {
	Recover(ctx context.Context, calc *store.Calculation) error
}

// Func adapts a function to the Recoverer interface.
type Func func(ctx context.Context, calc *store.Calculation) error

func (f Func) Recover(ctx context.Context, calc *store.Calculation) error {
	return f(ctx, calc)
}

// CommandRecoverer runs an external fixer. Placeholders: {input}, {output},
// {workdir}, {calc_type}, {material}, {retry}.
type CommandRecoverer struct {
	Argv    []string
	Timeout time.Duration
}

// New resolves the capability from a configured argv. An empty argv means
// recovery is disabled and New returns nil.
func New(argv []string, timeout time.Duration) Recoverer {
	if len(argv) == 0 || argv[0] == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandRecoverer{Argv: argv, Timeout: timeout}
}

// Recover runs the fixer in the calculation's working directory.
func (r *CommandRecoverer) Recover(ctx context.Context, calc *store.Calculation) error {
	args := util.ExpandArgs(r.Argv, map[string]string{
		"input":     calc.InputFile,
		"output":    calc.OutputFile,
		"workdir":   calc.WorkDir,
		"calc_type": calc.CalcType,
		"material":  calc.MaterialID,
		"retry":     fmt.Sprint(calc.Settings.RetryCount),
	}, nil)
	if _, err := (util.Command{Dir: calc.WorkDir, Timeout: r.Timeout}).Run(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("recovering %s/%s: %w", calc.MaterialID, calc.CalcType, err)
	}
	return nil
}
