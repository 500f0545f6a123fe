package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/store"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/suggest"
)

var (
	markJobID   string
	markProcess bool
)

var markCmd = &cobra.Command{
	Use:     "mark <calc-id> <status>",
	GroupID: GroupData,
	Short:   "Record a calculation's status",
	Long: `Record what the scheduler reported for a calculation.

Status is one of: pending, submitted, running, completed, failed.

Job scripts call this from their epilogue. With --process, a completed or
failed calculation is processed right away, as 'calcflow process' would.

Examples:
  calcflow mark 3f2a9c1e-... running
  calcflow mark "$CALC_ID" completed --process
  calcflow mark "$CALC_ID" submitted --job 123456`,
	Args: requireArgs(2, "<calc-id> <status>"),
	RunE: runMark,
}

func init() {
	markCmd.Flags().StringVar(&markJobID, "job", "", "Scheduler job id to record")
	markCmd.Flags().BoolVar(&markProcess, "process", false, "Process the calculation once it finished")
	rootCmd.AddCommand(markCmd)
}

func runMark(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]
	status, err := store.ParseStatus(args[1])
	if err != nil {
		return unknownStatus(args[1])
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	calc, err := a.store.GetCalculation(ctx, id)
	if err != nil {
		return err
	}
	if err := a.store.UpdateCalculationStatus(ctx, id, status, markJobID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("another %s calculation of %s is active: %w", calc.CalcType, calc.MaterialID, err)
		}
		return err
	}
	if err := a.events.Log(calclog.EventStatus, calc.MaterialID, calc.CalcType, string(calc.Status)+" -> "+string(status)); err != nil {
		a.log.Warn("writing event log", "err", err)
	}
	fmt.Printf("%s %s/%s %s → %s\n", style.SuccessPrefix, calc.MaterialID, calc.CalcType,
		style.Dim.Render(string(calc.Status)), style.Bold.Render(string(status)))

	if !markProcess || !status.IsTerminal() {
		return nil
	}
	out, err := a.engine.ProcessOne(ctx, id)
	if errors.Is(err, engine.ErrNotFinished) {
		// failed with retries left: the sweep resubmits it
		fmt.Printf("%s %s\n", style.Dim.Render("○"), "retries remain; 'calcflow retry "+shortID(id)+"' or the next sweep resubmits it")
		return nil
	}
	if err != nil {
		return fmt.Errorf("processing %s: %w", id, err)
	}
	printOutcome(out)
	return outcomeError(out)
}

func unknownStatus(s string) error {
	known := make([]string, 0, len(store.AllStatuses()))
	for _, st := range store.AllStatuses() {
		known = append(known, string(st))
	}
	fmt.Print(style.SuggestionBox(fmt.Sprintf("Unknown status %q", s),
		suggest.FindSimilar(s, known, 2), "Valid: "+strings.Join(known, ", ")))
	return NewSilentExit(1)
}
