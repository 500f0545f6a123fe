package engine

import (
	"fmt"
	"strings"
)

// Outcome reports what one scanner pass did.
type Outcome struct {
	Material string

	// Trigger is the calculation that was processed, empty for StartWorkflow.
	Trigger string

	// AlreadyProcessed is set when the trigger had been handled before;
	// nothing else was done.
	AlreadyProcessed bool

	// Created holds ids of new calculations, in creation order.
	Created []string

	Submitted    []Submission
	SubmitFailed []StepError

	// Skipped lists candidates that already exist or whose generation
	// failed on an earlier pass.
	Skipped []string

	Deferred []Deferral

	// Failed lists candidates whose generation failed during this pass.
	Failed []StepError

	// Critical is set when a required step failed and the remaining
	// candidates were abandoned.
	Critical *BlockedError
}

// Submission is a calculation accepted by the scheduler.
type Submission struct {
	CalcID string
	Token  string
	JobID  string
}

// Deferral is a candidate waiting on an unfinished dependency.
type Deferral struct {
	Token      string
	Dependency string
}

// StepError is a per-candidate failure.
type StepError struct {
	Token    string
	Err      error
	Critical bool
}

// Summary renders a one-line description.
func (o *Outcome) Summary() string {
	if o.AlreadyProcessed {
		return "already processed"
	}
	var parts []string
	if n := len(o.Created); n > 0 {
		parts = append(parts, fmt.Sprintf("%d created", n))
	}
	if n := len(o.Submitted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d submitted", n))
	}
	if n := len(o.SubmitFailed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d submit failed", n))
	}
	if n := len(o.Deferred); n > 0 {
		parts = append(parts, fmt.Sprintf("%d deferred", n))
	}
	if n := len(o.Failed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	if o.Critical != nil {
		parts = append(parts, "CRITICAL: "+o.Critical.Error())
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}
