package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/style"
)

var submitCmd = &cobra.Command{
	Use:     "submit <calc-id>",
	GroupID: GroupData,
	Short:   "Submit a pending calculation to the scheduler",
	Long: `Submit a calculation whose input exists but has no job yet, for example
after the scheduler rejected it. The retry count is not touched.

Examples:
  calcflow submit 3f2a9c1e-...`,
	Args: requireArgs(1, "<calc-id>"),
	RunE: runSubmit,
}

var retryCmd = &cobra.Command{
	Use:     "retry <calc-id>",
	GroupID: GroupData,
	Short:   "Resubmit a failed calculation",
	Long: `Resubmit a failed calculation, running the recovery command first if one
is configured. Each retry counts against engine.max_retries; once the
budget is spent the calculation stays failed.

Examples:
  calcflow retry 3f2a9c1e-...`,
	Args: requireArgs(1, "<calc-id>"),
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(retryCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobID, err := a.engine.Submit(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s Submitted as job %s\n", style.SuccessPrefix, style.Bold.Render(jobID))
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	maxRetries := a.cfg.Engine.MaxRetries
	jobID, err := a.engine.Retry(ctx, args[0], maxRetries)
	switch {
	case errors.Is(err, engine.ErrRetryExhausted):
		style.PrintWarning("%s has used all %d retries; it stays failed", shortID(args[0]), maxRetries)
		return NewSilentExit(1)
	case errors.Is(err, engine.ErrNotRetryable):
		return fmt.Errorf("%s: %w (only failed calculations, or pending ones whose submission failed, can be retried)", shortID(args[0]), err)
	case err != nil:
		return err
	}
	fmt.Printf("%s Resubmitted as job %s\n", style.SuccessPrefix, style.Bold.Render(jobID))
	return nil
}
