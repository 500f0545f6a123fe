package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/calcflow/calcflow/internal/calctype"
)

// Status is the lifecycle state of a calculation.
type Status string

const (
	// StatusPending means the input exists but nothing was accepted by the scheduler yet.
	StatusPending Status = "pending"

	// StatusSubmitted means the scheduler accepted the job.
	StatusSubmitted Status = "submitted"

	// StatusRunning is reported externally once the job starts.
	StatusRunning Status = "running"

	// StatusCompleted is the terminal success state.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal unless the retry controller resubmits.
	StatusFailed Status = "failed"
)

// AllStatuses lists statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusSubmitted, StatusRunning, StatusCompleted, StatusFailed}
}

// IsActive reports whether a record in this status blocks creation of
// another record with the same calculation type.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusRunning, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal returns true for completed and failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStatuses() {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Material is a structure enrolled in a workflow.
type Material struct {
	ID         string    `json:"id"`
	Formula    string    `json:"formula,omitempty"`
	SourceFile string    `json:"source_file"`
	SourceType string    `json:"source_type,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Calculation is one unit of work tracked through the scheduler.
type Calculation struct {
	ID         string    `json:"id"`
	MaterialID string    `json:"material_id"`
	CalcType   string    `json:"calc_type"`
	Status     Status    `json:"status"`
	InputFile  string    `json:"input_file"`
	OutputFile string    `json:"output_file,omitempty"`
	WorkDir    string    `json:"work_dir"`
	JobID      string    `json:"job_id,omitempty"`
	Settings   Settings  `json:"settings"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Kind returns the parsed calculation type.
func (c *Calculation) Kind() calctype.CalcType {
	return calctype.Parse(c.CalcType)
}

// RetriesExhausted reports whether the retry budget is spent.
func (c *Calculation) RetriesExhausted(maxRetries int) bool {
	return c.Settings.RetryCount >= maxRetries
}

// NewCalculation carries the fields needed to create a calculation record.
// Records are always created in StatusPending.
type NewCalculation struct {
	MaterialID string
	CalcType   string
	InputFile  string
	OutputFile string
	WorkDir    string
	Settings   Settings
}

// Validate checks the record before it is written.
func (n NewCalculation) Validate() error {
	if n.MaterialID == "" {
		return fmt.Errorf("material id is required")
	}
	if strings.TrimSpace(n.CalcType) == "" {
		return fmt.Errorf("calc type is required")
	}
	if n.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	return n.Settings.Validate(n.CalcType)
}

// GenerationFailure records a target step whose input could not be produced.
// Critical failures block every step that depends on the target.
type GenerationFailure struct {
	MaterialID string    `json:"material_id"`
	CalcType   string    `json:"calc_type"`
	Reason     string    `json:"reason"`
	Critical   bool      `json:"critical"`
	At         time.Time `json:"at"`
}

// Filter narrows ListCalculations. Zero fields match everything.
// CalcType matches canonically, so "OPT_2" finds "OPT2".
type Filter struct {
	MaterialID string
	Status     Status
	CalcType   string
}

// Matches reports whether a calculation passes the filter.
func (f Filter) Matches(c *Calculation) bool {
	if f.MaterialID != "" && c.MaterialID != f.MaterialID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.CalcType != "" && !calctype.Equivalent(f.CalcType, c.CalcType) {
		return false
	}
	return true
}
