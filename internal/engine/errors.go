package engine

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrGenerationFailed means the generator exited non-zero or timed out.
	ErrGenerationFailed = errors.New("input generation failed")

	// ErrMissingArtifact means an expected file was absent: the source
	// output, a required intermediate, or the generated input.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrSubmissionFailed means the scheduler rejected, timed out, or
	// printed no job id.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrRetryExhausted means the retry budget is spent.
	ErrRetryExhausted = errors.New("retries exhausted")

	// ErrNotRetryable means the calculation is not in a retryable state.
	ErrNotRetryable = errors.New("calculation is not retryable")

	// ErrNotFinished means a calculation was handed to the scanner before
	// reaching a terminal state.
	ErrNotFinished = errors.New("calculation has not finished")

	// ErrNoWorkflow means no workflow id is known for a material.
	ErrNoWorkflow = errors.New("no workflow for material")
)

// IsGenerationFailure reports whether err is a generation failure of any kind.
func IsGenerationFailure(err error) bool {
	return errors.Is(err, ErrGenerationFailed) || errors.Is(err, ErrMissingArtifact)
}

// BlockedError reports a step that can never be generated because a
// required dependency failed.
type BlockedError struct {
	Material   string
	Token      string
	Dependency string
	Critical   bool
}

func (e *BlockedError) Error() string {
	kind := "blocked"
	if e.Critical {
		kind = "critically blocked"
	}
	return fmt.Sprintf("%s/%s %s: dependency %s failed", e.Material, e.Token, kind, e.Dependency)
}
