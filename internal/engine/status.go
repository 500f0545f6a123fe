package engine

import (
	"context"
	"fmt"

	"github.com/calcflow/calcflow/internal/calctype"
	"github.com/calcflow/calcflow/internal/store"
)

// StepState summarizes where one plan step stands.
type StepState string

const (
	StateNotStarted       StepState = "not_started"
	StatePending          StepState = "pending"
	StateSubmitted        StepState = "submitted"
	StateRunning          StepState = "running"
	StateCompleted        StepState = "completed"
	StateFailed           StepState = "failed"
	StateGenerationFailed StepState = "generation_failed"
	StateBlocked          StepState = "blocked"
)

// StepStatus is one row of a workflow status report.
type StepStatus struct {
	Step       int
	Token      string
	Dependency string
	Optional   bool
	State      StepState

	// Calc is the most recent calculation for the step, if any.
	Calc *store.Calculation

	// Reason explains a failure or block.
	Reason string

	// Critical is set for failures of required steps; they stop the workflow.
	Critical bool

	// Final means the step will not change without operator action.
	Final bool
}

// Status is the workflow report for one material.
type Status struct {
	Material   *store.Material
	WorkflowID string
	Steps      []StepStatus

	// Extra lists calculations whose type is not a step of the plan.
	Extra []*store.Calculation

	// Complete means every step is final and none failed critically.
	Complete bool
	Blocked  bool
}

// WorkflowStatus reports each plan step of a material with its latest
// calculation. The workflow is taken from the material, or failing that
// from its first calculation.
func (e *Engine) WorkflowStatus(ctx context.Context, materialID string) (*Status, error) {
	mat, err := e.store.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	calcs, err := e.store.ListCalculations(ctx, store.Filter{MaterialID: materialID})
	if err != nil {
		return nil, fmt.Errorf("listing calculations: %w", err)
	}
	failures, err := e.store.ListGenerationFailures(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("listing generation failures: %w", err)
	}

	workflowID := mat.WorkflowID
	if workflowID == "" && len(calcs) > 0 {
		workflowID = calcs[0].Settings.WorkflowID
	}
	st := &Status{Material: mat, WorkflowID: workflowID}
	if workflowID == "" {
		st.Extra = calcs
		return st, nil
	}
	p, err := e.plans.Load(workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading plan: %w", err)
	}

	// Calculations are in creation order, so the last one seen wins.
	latest := make(map[string]*store.Calculation)
	for _, c := range calcs {
		canon := calctype.Canonical(c.CalcType)
		if p.Index(canon) < 0 {
			st.Extra = append(st.Extra, c)
			continue
		}
		latest[canon] = c
	}
	genFailures := make(map[string]store.GenerationFailure)
	for _, f := range failures {
		genFailures[calctype.Canonical(f.CalcType)] = f
	}

	failed := make(map[string]bool)
	st.Complete = true
	for i, step := range p.Steps {
		canon := calctype.Canonical(step.Token)
		row := StepStatus{
			Step:     i + 1,
			Token:    canon,
			Optional: calctype.IsOptional(calctype.BaseOf(canon)),
		}
		if dep, ok := p.DependencyOf(step.Token); ok {
			row.Dependency = calctype.Canonical(dep)
		}

		c := latest[canon]
		f, genFailed := genFailures[canon]
		switch {
		case c != nil:
			row.Calc = c
			row.State = StepState(c.Status)
			switch {
			case c.Status == store.StatusCompleted:
				row.Final = true
			case c.Status == store.StatusFailed && c.RetriesExhausted(e.opts.MaxRetries):
				row.Reason = fmt.Sprintf("retries exhausted (%d/%d)", c.Settings.RetryCount, e.opts.MaxRetries)
				row.Critical = !row.Optional
				row.Final = true
			case c.Status == store.StatusFailed:
				row.Reason = fmt.Sprintf("retry %d of %d available", c.Settings.RetryCount+1, e.opts.MaxRetries)
			case c.Settings.SubmitError != "":
				row.Reason = "submit failed: " + c.Settings.SubmitError
			}
		case genFailed:
			row.State = StateGenerationFailed
			if failed[row.Dependency] {
				row.State = StateBlocked
			}
			row.Reason = f.Reason
			row.Critical = f.Critical
			row.Final = true
		default:
			row.State = StateNotStarted
		}

		if row.Final && row.State != StateCompleted {
			failed[canon] = true
		}
		if !row.Final {
			st.Complete = false
		}
		if row.Critical {
			st.Blocked = true
		}
		st.Steps = append(st.Steps, row)
	}
	if st.Blocked {
		st.Complete = false
	}
	return st, nil
}
