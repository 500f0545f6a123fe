package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/style"
)

var processMaterial string

var processCmd = &cobra.Command{
	Use:     "process [calc-id...]",
	GroupID: GroupWorkflow,
	Short:   "Advance workflows after finished calculations",
	Long: `Generate and submit the steps that follow finished calculations.

With calculation ids, each is processed in turn. This is the form job
epilogues call once the scheduler reports the job finished:

  calcflow mark "$CALC_ID" completed && calcflow process "$CALC_ID"

Without ids, every finished calculation not yet processed is handled, and
failed calculations with retries left are resubmitted (a single sweep).

Processing a calculation twice is harmless: the second run reports it as
already processed.

Exit codes: 0 on success, 1 if a submission failed, 2 if a required step
failed and stopped the workflow.

Examples:
  calcflow process 3f2a9c1e-...
  calcflow process --material mgo`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processMaterial, "material", "m", "", "Only process this material")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		if processMaterial != "" {
			if err := checkMaterial(ctx, a.store, processMaterial); err != nil {
				return err
			}
		}
		report, err := a.engine.Sweep(ctx, engine.SweepFilter{MaterialID: processMaterial})
		if err != nil {
			return err
		}
		printSweepReport(report)
		return sweepError(report)
	}

	var result error
	for _, id := range args {
		out, err := a.engine.ProcessOne(ctx, id)
		if errors.Is(err, engine.ErrNotFinished) {
			style.PrintWarning("%s has not finished; nothing to do", id)
			continue
		}
		if err != nil {
			return fmt.Errorf("processing %s: %w", id, err)
		}
		if processMaterial != "" && out.Material != processMaterial {
			style.PrintWarning("%s belongs to %s, not %s", id, out.Material, processMaterial)
		}
		printOutcome(out)
		result = worstExit(result, outcomeError(out))
	}
	return result
}

// outcomeLines renders an outcome for the terminal.
func outcomeLines(out *engine.Outcome) []string {
	header := out.Material
	if out.Trigger != "" {
		header += style.Dim.Render(" (after " + shortID(out.Trigger) + ")")
	}
	lines := []string{fmt.Sprintf("%s %s", style.ArrowPrefix, style.Bold.Render(header))}

	if out.AlreadyProcessed {
		return append(lines, "  "+style.Dim.Render("already processed"))
	}
	for _, s := range out.Submitted {
		lines = append(lines, fmt.Sprintf("  %s %s submitted as job %s", style.SuccessPrefix, s.Token, s.JobID))
	}
	for _, f := range out.SubmitFailed {
		lines = append(lines, fmt.Sprintf("  %s %s created but not submitted: %v", style.WarningPrefix, f.Token, f.Err))
	}
	for _, d := range out.Deferred {
		lines = append(lines, fmt.Sprintf("  %s %s waiting on %s", style.Dim.Render("○"), d.Token, d.Dependency))
	}
	for _, f := range out.Failed {
		prefix := style.WarningPrefix
		if f.Critical {
			prefix = style.ErrorPrefix
		}
		lines = append(lines, fmt.Sprintf("  %s %s generation failed: %v", prefix, f.Token, f.Err))
	}
	if len(out.Skipped) > 0 {
		lines = append(lines, "  "+style.Dim.Render("skipped: "+strings.Join(out.Skipped, ", ")))
	}
	if out.Critical != nil {
		lines = append(lines, "  "+style.Error.Render("CRITICAL: "+out.Critical.Error()))
	}
	if len(lines) == 1 {
		lines = append(lines, "  "+style.Dim.Render("nothing to do"))
	}
	return lines
}

func printOutcome(out *engine.Outcome) {
	for _, l := range outcomeLines(out) {
		fmt.Println(l)
	}
}

// outcomeError maps an outcome to the process exit code.
func outcomeError(out *engine.Outcome) error {
	switch {
	case out.Critical != nil:
		return NewSilentExit(2)
	case len(out.SubmitFailed) > 0:
		return NewSilentExit(1)
	}
	return nil
}

// worstExit keeps the higher of two silent exit codes.
func worstExit(a, b error) error {
	ca, _ := IsSilentExit(a)
	cb, _ := IsSilentExit(b)
	if cb > ca {
		return b
	}
	return a
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
