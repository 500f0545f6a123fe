package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/store"
)

// ErrNotSubmittable means the calculation already has a live job.
var ErrNotSubmittable = errors.New("calculation cannot be submitted in its current state")

// Submit hands a calculation's script to the scheduler and records the job
// id. On failure the status is left as it was, the scheduler's message is
// kept in settings.submit_error, and ErrSubmissionFailed is returned.
func (e *Engine) Submit(ctx context.Context, calcID string) (string, error) {
	calc, err := e.store.GetCalculation(ctx, calcID)
	if err != nil {
		return "", err
	}
	var jobID string
	err = e.withMaterial(ctx, calc.MaterialID, "submit "+calc.CalcType, func(ctx context.Context) error {
		jobID, err = e.submitLocked(ctx, calcID)
		return err
	})
	return jobID, err
}

func (e *Engine) submitLocked(ctx context.Context, calcID string) (string, error) {
	calc, err := e.store.GetCalculation(ctx, calcID)
	if err != nil {
		return "", err
	}
	if calc.Status != store.StatusPending && calc.Status != store.StatusFailed {
		return "", fmt.Errorf("%s/%s is %s: %w", calc.MaterialID, calc.CalcType, calc.Status, ErrNotSubmittable)
	}

	script := filepath.Join(calc.WorkDir, e.opts.ScriptName)
	jobID, subErr := e.sched.Submit(ctx, script, calc.WorkDir)
	if subErr != nil {
		settings := calc.Settings
		settings.SubmitError = subErr.Error()
		if err := e.store.UpdateCalculationSettings(ctx, calcID, settings); err != nil {
			e.log.Error("recording submit error", "id", calcID, "err", err)
		}
		e.event(calclog.EventSubmitFailed, calc.MaterialID, calc.CalcType, subErr.Error())
		e.log.Warn("submission failed", "material", calc.MaterialID, "calc_type", calc.CalcType, "err", subErr)
		return "", fmt.Errorf("%s/%s: %w: %w", calc.MaterialID, calc.CalcType, ErrSubmissionFailed, subErr)
	}

	if calc.Settings.SubmitError != "" {
		settings := calc.Settings
		settings.SubmitError = ""
		if err := e.store.UpdateCalculationSettings(ctx, calcID, settings); err != nil {
			return "", fmt.Errorf("clearing submit error: %w", err)
		}
	}
	if err := e.store.UpdateCalculationStatus(ctx, calcID, store.StatusSubmitted, jobID); err != nil {
		return "", fmt.Errorf("recording job %s: %w", jobID, err)
	}
	e.event(calclog.EventSubmitted, calc.MaterialID, calc.CalcType, jobID)
	e.log.Info("submitted", "material", calc.MaterialID, "calc_type", calc.CalcType, "job", jobID)
	return jobID, nil
}

// Retry resubmits a failed calculation, or a pending one whose submission
// never succeeded. The retry count is incremented and saved before the
// attempt, so the count never exceeds maxRetries; once it reaches
// maxRetries, Retry returns ErrRetryExhausted and changes nothing.
func (e *Engine) Retry(ctx context.Context, calcID string, maxRetries int) (string, error) {
	calc, err := e.store.GetCalculation(ctx, calcID)
	if err != nil {
		return "", err
	}
	var jobID string
	err = e.withMaterial(ctx, calc.MaterialID, "retry "+calc.CalcType, func(ctx context.Context) error {
		jobID, err = e.retryLocked(ctx, calcID, maxRetries)
		return err
	})
	return jobID, err
}

func (e *Engine) retryLocked(ctx context.Context, calcID string, maxRetries int) (string, error) {
	calc, err := e.store.GetCalculation(ctx, calcID)
	if err != nil {
		return "", err
	}
	if !retryable(calc) {
		return "", fmt.Errorf("%s/%s is %s: %w", calc.MaterialID, calc.CalcType, calc.Status, ErrNotRetryable)
	}
	if calc.RetriesExhausted(maxRetries) {
		e.event(calclog.EventRetryExhausted, calc.MaterialID, calc.CalcType,
			fmt.Sprintf("%d of %d", calc.Settings.RetryCount, maxRetries))
		return "", fmt.Errorf("%s/%s after %d attempts: %w", calc.MaterialID, calc.CalcType, calc.Settings.RetryCount, ErrRetryExhausted)
	}

	settings := calc.Settings
	settings.RetryCount++
	if err := e.store.UpdateCalculationSettings(ctx, calcID, settings); err != nil {
		return "", fmt.Errorf("saving retry count: %w", err)
	}

	if calc.Status == store.StatusFailed && e.recoverer != nil {
		calc.Settings = settings
		if err := e.recoverer.Recover(ctx, calc); err != nil {
			e.event(calclog.EventSubmitFailed, calc.MaterialID, calc.CalcType, "recovery: "+err.Error())
			return "", fmt.Errorf("%s/%s: %w: %w", calc.MaterialID, calc.CalcType, ErrSubmissionFailed, err)
		}
	}

	jobID, err := e.submitLocked(ctx, calcID)
	if err != nil {
		return "", err
	}
	e.event(calclog.EventRetried, calc.MaterialID, calc.CalcType,
		"attempt "+strconv.Itoa(settings.RetryCount)+", job "+jobID)
	return jobID, nil
}

// retryable is true for failed calculations and for pending ones that
// never reached the scheduler.
func retryable(c *store.Calculation) bool {
	switch c.Status {
	case store.StatusFailed:
		return true
	case store.StatusPending:
		return c.JobID == ""
	}
	return false
}
