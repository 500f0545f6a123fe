package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/sweeper"
)

var (
	sweepMaterial string
	sweepInterval time.Duration
	sweepOnce     bool
)

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	GroupID: GroupWorkflow,
	Short:   "Periodically advance finished calculations",
	Long: `Run sweeps in the foreground until interrupted.

A sweep processes every finished calculation not yet processed and
resubmits failed calculations that have retries left. It catches jobs
whose epilogue never called 'calcflow process'.

The interval defaults to [sweep] interval in config.toml. Send SIGUSR1
to sweep immediately.

Examples:
  calcflow sweep                  # Sweep every 5m
  calcflow sweep --interval 30s
  calcflow sweep --once           # Same as 'calcflow process'`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVarP(&sweepMaterial, "material", "m", "", "Only sweep this material")
	sweepCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Time between sweeps (default from config)")
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Sweep once and exit")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if sweepMaterial != "" {
		if err := checkMaterial(ctx, a.store, sweepMaterial); err != nil {
			return err
		}
	}
	filter := engine.SweepFilter{MaterialID: sweepMaterial}

	if sweepOnce {
		report, err := a.engine.Sweep(ctx, filter)
		if err != nil {
			return err
		}
		printSweepReport(report)
		return sweepError(report)
	}

	interval := sweepInterval
	if interval <= 0 {
		interval = a.cfg.Sweep.Interval.Duration
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	runner := sweeper.New(a.engine, interval, filter, logger.Printf)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sweeper.Signals()...)
	defer signal.Stop(sigCh)

	fmt.Printf("%s Sweeping every %v (pid %d, SIGUSR1 sweeps now)\n", style.ArrowPrefix, interval, os.Getpid())
	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	for {
		select {
		case sig := <-sigCh:
			if sweeper.IsWakeSignal(sig) {
				runner.Wake()
				continue
			}
			fmt.Printf("%s Stopping after %v\n", style.Dim.Render("○"), sig)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func printSweepReport(r *engine.SweepReport) {
	if len(r.Outcomes) == 0 && len(r.Retried) == 0 && len(r.Errors) == 0 {
		fmt.Printf("%s Nothing to do\n", style.Dim.Render("○"))
		return
	}
	for _, o := range r.Outcomes {
		printOutcome(o)
	}
	for _, s := range r.Retried {
		fmt.Printf("%s %s resubmitted as job %s %s\n", style.SuccessPrefix, s.Token, s.JobID, style.Dim.Render(shortID(s.CalcID)))
	}
	for _, err := range r.Errors {
		fmt.Printf("%s %v\n", style.ErrorPrefix, err)
	}
}

// sweepError maps a report to the process exit code.
func sweepError(r *engine.SweepReport) error {
	var result error
	for _, o := range r.Outcomes {
		result = worstExit(result, outcomeError(o))
	}
	if len(r.Errors) > 0 {
		result = worstExit(result, NewSilentExit(1))
	}
	return result
}
