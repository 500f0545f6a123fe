package engine

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/calctype"
	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/store"
)

// materialState is a snapshot of one material's progress.
type materialState struct {
	completed []string
	failed    []string

	// sources maps canonical tokens to their completed calculation.
	sources map[string]*store.Calculation

	// genFailed holds canonical tokens with a recorded generation failure.
	genFailed map[string]bool

	// exhausted holds canonical tokens whose failed record has no retries left.
	exhausted map[string]bool
}

func (e *Engine) loadState(ctx context.Context, materialID string) (*materialState, error) {
	calcs, err := e.store.ListCalculations(ctx, store.Filter{MaterialID: materialID})
	if err != nil {
		return nil, fmt.Errorf("listing calculations: %w", err)
	}
	failures, err := e.store.ListGenerationFailures(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("listing generation failures: %w", err)
	}

	st := &materialState{
		sources:   make(map[string]*store.Calculation),
		genFailed: make(map[string]bool),
		exhausted: make(map[string]bool),
	}
	for _, c := range calcs {
		canon := calctype.Canonical(c.CalcType)
		switch {
		case c.Status == store.StatusCompleted:
			if _, dup := st.sources[canon]; !dup {
				st.completed = append(st.completed, canon)
			}
			st.sources[canon] = c
		case c.Status == store.StatusFailed && c.RetriesExhausted(e.opts.MaxRetries):
			st.failed = append(st.failed, canon)
			st.exhausted[canon] = true
		}
	}
	for _, f := range failures {
		canon := calctype.Canonical(f.CalcType)
		st.genFailed[canon] = true
		st.failed = append(st.failed, canon)
	}
	return st, nil
}

// isTrigger reports whether a calculation moves the workflow forward:
// completed, or failed with no retries left.
func (e *Engine) isTrigger(c *store.Calculation) bool {
	switch c.Status {
	case store.StatusCompleted:
		return true
	case store.StatusFailed:
		return c.RetriesExhausted(e.opts.MaxRetries)
	}
	return false
}

// ProcessOne advances the workflow after calcID finished. It is safe to
// call repeatedly: once the calculation's processed flag is set, later
// calls return immediately. The flag is set after every candidate was
// attempted, whether or not anything was created.
func (e *Engine) ProcessOne(ctx context.Context, calcID string) (*Outcome, error) {
	calc, err := e.store.GetCalculation(ctx, calcID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Material: calc.MaterialID, Trigger: calcID}
	if calc.Settings.Processed {
		out.AlreadyProcessed = true
		return out, nil
	}

	err = e.withMaterial(ctx, calc.MaterialID, "process "+calc.CalcType, func(ctx context.Context) error {
		return e.processLocked(ctx, calcID, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) processLocked(ctx context.Context, calcID string, out *Outcome) error {
	// Re-read under the lock: another process may have finished first.
	calc, err := e.store.GetCalculation(ctx, calcID)
	if err != nil {
		return err
	}
	if calc.Settings.Processed {
		out.AlreadyProcessed = true
		return nil
	}
	if !e.isTrigger(calc) {
		return fmt.Errorf("%s/%s is %s: %w", calc.MaterialID, calc.CalcType, calc.Status, ErrNotFinished)
	}

	p, err := e.plans.Load(calc.Settings.WorkflowID)
	if err != nil {
		return fmt.Errorf("loading plan: %w", err)
	}
	mat, err := e.store.GetMaterial(ctx, calc.MaterialID)
	if err != nil {
		return err
	}

	candidates := p.NextCandidates(calc.CalcType, e.opts.ParallelPairs)
	if err := e.advance(ctx, mat, p, candidates, out); err != nil {
		return err
	}

	settings := calc.Settings
	settings.MarkProcessed(e.now())
	if err := e.store.UpdateCalculationSettings(ctx, calcID, settings); err != nil {
		return fmt.Errorf("marking %s processed: %w", calcID, err)
	}
	e.event(calclog.EventProcessed, calc.MaterialID, calc.CalcType, out.Summary())
	return nil
}

// advance works through candidate tokens. A candidate whose optional
// generation fails is replaced by its own successors, so one failed
// optional step never strands the rest of the plan. A required failure
// stops the pass.
func (e *Engine) advance(ctx context.Context, mat *store.Material, p *plan.Plan, candidates []string, out *Outcome) error {
	st, err := e.loadState(ctx, mat.ID)
	if err != nil {
		return err
	}

	queue := append([]string(nil), candidates...)
	visited := make(map[string]bool)
	for len(queue) > 0 {
		token := queue[0]
		queue = queue[1:]
		canon := calctype.Canonical(token)
		if visited[canon] {
			continue
		}
		visited[canon] = true

		exists, err := e.Exists(ctx, mat.ID, token)
		if err != nil {
			return err
		}
		if exists || st.genFailed[canon] || st.exhausted[canon] {
			out.Skipped = append(out.Skipped, canon)
			continue
		}

		d := Ready(p, token, st.completed, st.failed)
		if !d.Ready {
			if d.Critical {
				blocked := &BlockedError{Material: mat.ID, Token: canon, Dependency: d.Blocking, Critical: true}
				e.recordFailure(ctx, mat.ID, canon, blocked.Error(), true)
				e.event(calclog.EventBlocked, mat.ID, canon, "required "+d.Blocking+" failed")
				out.Critical = blocked
				return nil
			}
			out.Deferred = append(out.Deferred, Deferral{Token: canon, Dependency: d.Blocking})
			e.event(calclog.EventDeferred, mat.ID, canon, "waiting on "+d.Blocking)
			continue
		}

		req := genRequest{material: mat, plan: p, target: token}
		if d.Source != "" {
			req.source = st.sources[calctype.Canonical(d.Source)]
			if d.Substituted {
				req.substitutedFrom = d.Dependency
			}
		}

		id, err := e.generate(ctx, req)
		if err != nil {
			if isDuplicate(err) {
				out.Skipped = append(out.Skipped, canon)
				continue
			}
			if !IsGenerationFailure(err) {
				return err
			}
			critical := calctype.IsRequired(calctype.BaseOf(canon))
			e.recordFailure(ctx, mat.ID, canon, err.Error(), critical)
			e.event(calclog.EventGenerationFailed, mat.ID, canon, err.Error())
			out.Failed = append(out.Failed, StepError{Token: canon, Err: err, Critical: critical})
			st.failed = append(st.failed, canon)
			st.genFailed[canon] = true
			if critical {
				out.Critical = &BlockedError{Material: mat.ID, Token: canon, Dependency: canon, Critical: true}
				return nil
			}
			queue = append(queue, p.NextCandidates(token, e.opts.ParallelPairs)...)
			continue
		}
		out.Created = append(out.Created, id)

		jobID, err := e.submitLocked(ctx, id)
		if err != nil {
			out.SubmitFailed = append(out.SubmitFailed, StepError{Token: canon, Err: err})
			continue
		}
		out.Submitted = append(out.Submitted, Submission{CalcID: id, Token: canon, JobID: jobID})
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, materialID, token, reason string, critical bool) {
	err := e.store.RecordGenerationFailure(ctx, store.GenerationFailure{
		MaterialID: materialID,
		CalcType:   token,
		Reason:     reason,
		Critical:   critical,
		At:         e.now(),
	})
	if err != nil {
		e.log.Error("recording generation failure", "material", materialID, "calc_type", token, "err", err)
	}
}

// StartWorkflow generates and submits the first plan step for a material
// from its source structure. workflowID may be empty to use the workflow
// the material was enrolled with. Starting twice is a no-op.
func (e *Engine) StartWorkflow(ctx context.Context, materialID, workflowID string) (*Outcome, error) {
	out := &Outcome{Material: materialID}
	err := e.withMaterial(ctx, materialID, "start workflow", func(ctx context.Context) error {
		mat, err := e.store.GetMaterial(ctx, materialID)
		if err != nil {
			return err
		}
		if workflowID == "" {
			workflowID = mat.WorkflowID
		}
		if workflowID == "" {
			return fmt.Errorf("%s: %w", materialID, ErrNoWorkflow)
		}
		p, err := e.plans.Load(workflowID)
		if err != nil {
			return fmt.Errorf("loading plan: %w", err)
		}

		e.event(calclog.EventStarted, materialID, "", workflowID)
		return e.advance(ctx, mat, p, []string{p.Steps[0].Token}, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SweepFilter narrows a sweep. Zero fields match everything.
type SweepFilter struct {
	MaterialID string
}

// SweepReport collects the results of a sweep.
type SweepReport struct {
	Outcomes []*Outcome
	Retried  []Submission

	// Errors holds per-calculation failures; the sweep keeps going past them.
	Errors []error
}

// Sweep processes every finished, unprocessed calculation and retries
// failed calculations (and pending ones whose submission failed) that
// still have retries left. Materials run concurrently up to
// Options.Workers; each material's calculations run in creation order.
func (e *Engine) Sweep(ctx context.Context, f SweepFilter) (*SweepReport, error) {
	calcs, err := e.store.ListCalculations(ctx, store.Filter{MaterialID: f.MaterialID})
	if err != nil {
		return nil, fmt.Errorf("listing calculations: %w", err)
	}

	byMaterial := make(map[string][]*store.Calculation)
	var materials []string
	for _, c := range calcs {
		if _, ok := byMaterial[c.MaterialID]; !ok {
			materials = append(materials, c.MaterialID)
		}
		byMaterial[c.MaterialID] = append(byMaterial[c.MaterialID], c)
	}
	sort.Strings(materials)

	results := make([]*SweepReport, len(materials))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, id := range materials {
		g.Go(func() error {
			results[i] = e.sweepMaterial(gctx, byMaterial[id])
			return nil
		})
	}
	err = g.Wait()

	report := &SweepReport{}
	for _, r := range results {
		if r == nil {
			continue
		}
		report.Outcomes = append(report.Outcomes, r.Outcomes...)
		report.Retried = append(report.Retried, r.Retried...)
		report.Errors = append(report.Errors, r.Errors...)
	}
	return report, err
}

func (e *Engine) sweepMaterial(ctx context.Context, calcs []*store.Calculation) *SweepReport {
	r := &SweepReport{}
	for _, c := range calcs {
		if ctx.Err() != nil {
			r.Errors = append(r.Errors, ctx.Err())
			return r
		}
		switch {
		case needsRetry(c, e.opts.MaxRetries):
			jobID, err := e.Retry(ctx, c.ID, e.opts.MaxRetries)
			if err != nil {
				r.Errors = append(r.Errors, err)
				continue
			}
			r.Retried = append(r.Retried, Submission{CalcID: c.ID, Token: c.CalcType, JobID: jobID})

		case e.isTrigger(c) && !c.Settings.Processed:
			out, err := e.ProcessOne(ctx, c.ID)
			if err != nil {
				r.Errors = append(r.Errors, err)
				continue
			}
			if !out.AlreadyProcessed {
				r.Outcomes = append(r.Outcomes, out)
			}
		}
	}
	return r
}

// needsRetry selects failed calculations with retries left and pending
// calculations the scheduler never accepted.
func needsRetry(c *store.Calculation, maxRetries int) bool {
	if c.RetriesExhausted(maxRetries) {
		return false
	}
	switch c.Status {
	case store.StatusFailed:
		return true
	case store.StatusPending:
		return c.JobID == "" && c.Settings.SubmitError != ""
	}
	return false
}
