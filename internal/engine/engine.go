// Package engine drives calculation workflows.
//
// Given a finished calculation, the engine works out which plan steps come
// next, checks that each has not been created already and that its
// dependency is satisfied, generates the step's input through the external
// generator, and submits it to the batch scheduler. Every operation on a
// material runs under that material's lock, so two job epilogues finishing
// together cannot both create the same step.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/generator"
	"github.com/calcflow/calcflow/internal/lock"
	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/recovery"
	"github.com/calcflow/calcflow/internal/scheduler"
	"github.com/calcflow/calcflow/internal/store"
)

// PlanSource resolves workflow ids to plans.
type PlanSource interface {
	Load(id string) (*plan.Plan, error)
}

// EventLogger receives operator-visible workflow events.
type EventLogger interface {
	Log(eventType calclog.EventType, material, calcType, context string) error
}

type nopEvents struct{}

func (nopEvents) Log(calclog.EventType, string, string, string) error { return nil }

// Deps are the collaborators the engine drives. Store, Plans, Generator,
// Scheduler and Locks are required.
type Deps struct {
	Store     store.Store
	Plans     PlanSource
	Generator generator.Generator
	Scheduler scheduler.Scheduler
	Locks     *lock.Manager

	// Recoverer is optional; nil disables recovery before retries.
	Recoverer recovery.Recoverer

	Events EventLogger
	Logger *slog.Logger
}

// Options tune engine behavior.
type Options struct {
	// WorkRoot holds calculation directories and the .gen staging area.
	WorkRoot string

	MaxRetries    int
	ParallelPairs plan.ParallelPairs

	// Workers bounds concurrent materials during Sweep.
	Workers int

	InputExt  string
	OutputExt string

	// IntermediateGlobs select files copied from the source calculation's
	// directory; kinds in NeedsIntermediate fail without at least one.
	IntermediateGlobs []string
	NeedsIntermediate []string

	ScriptName     string
	ScriptTemplate *template.Template
}

// DefaultOptions returns options matching the built-in configuration.
func DefaultOptions(workRoot string) Options {
	return Options{
		WorkRoot:          workRoot,
		MaxRetries:        3,
		ParallelPairs:     plan.DefaultParallelPairs(),
		Workers:           4,
		InputExt:          ".d12",
		OutputExt:         ".out",
		IntermediateGlobs: []string{"*.f9", "*.f98", "fort.9", "fort.98"},
		NeedsIntermediate: []string{"BAND", "DOSS", "TRANSPORT", "CHARGE+POTENTIAL"},
		ScriptName:        "submit.sh",
	}
}

// Engine is the workflow dependency-resolution and generation engine.
type Engine struct {
	store     store.Store
	plans     PlanSource
	gen       generator.Generator
	sched     scheduler.Scheduler
	recoverer recovery.Recoverer
	locks     *lock.Manager
	events    EventLogger
	log       *slog.Logger

	opts Options
	now  func() time.Time
}

// New creates an Engine.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine: store is required")
	case deps.Plans == nil:
		return nil, errors.New("engine: plan source is required")
	case deps.Generator == nil:
		return nil, errors.New("engine: generator is required")
	case deps.Scheduler == nil:
		return nil, errors.New("engine: scheduler is required")
	case deps.Locks == nil:
		return nil, errors.New("engine: lock manager is required")
	case opts.WorkRoot == "":
		return nil, errors.New("engine: work root is required")
	case opts.MaxRetries < 0:
		return nil, fmt.Errorf("engine: max retries must be >= 0, got %d", opts.MaxRetries)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.InputExt == "" {
		opts.InputExt = ".d12"
	}
	if opts.OutputExt == "" {
		opts.OutputExt = ".out"
	}
	if opts.ScriptName == "" {
		opts.ScriptName = "submit.sh"
	}
	if opts.ScriptTemplate == nil {
		opts.ScriptTemplate = defaultScriptTemplate
	}

	e := &Engine{
		store:     deps.Store,
		plans:     deps.Plans,
		gen:       deps.Generator,
		sched:     deps.Scheduler,
		recoverer: deps.Recoverer,
		locks:     deps.Locks,
		events:    deps.Events,
		log:       deps.Logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if e.events == nil {
		e.events = nopEvents{}
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	return e, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Store returns the engine's store.
func (e *Engine) Store() store.Store {
	return e.store
}

// withMaterial runs fn under the material lock.
func (e *Engine) withMaterial(ctx context.Context, materialID, purpose string, fn func(ctx context.Context) error) error {
	return e.locks.WithLock(ctx, materialID, purpose, fn)
}

// event logs to the operator log; failures only reach the debug log.
func (e *Engine) event(t calclog.EventType, material, calcType, context string) {
	if err := e.events.Log(t, material, calcType, context); err != nil {
		e.log.Warn("writing event log", "event", t, "err", err)
	}
}
