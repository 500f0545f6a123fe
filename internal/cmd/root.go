// Package cmd implements the calcflow command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/ui"
)

// Command groups
const (
	GroupWorkflow = "workflow"
	GroupData     = "data"
	GroupConfig   = "config"
	GroupDiag     = "diag"
)

// Global flags
var (
	flagDB      string
	flagWorkDir string
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "calcflow",
	Short: "Drive multi-step calculation workflows on a batch cluster",
	Long: `calcflow chains calculations for each material through a workflow plan.

When a calculation finishes, calcflow works out which plan steps come next,
generates their inputs with the configured generator and submits them to the
batch scheduler. Run 'calcflow process <calc-id>' from a job epilogue, or
'calcflow sweep' to pick up everything that finished.

Start with 'calcflow init' (start here).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.InitTheme("")
		ui.ApplyThemeMode()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupWorkflow, Title: "Workflow Commands:"},
		&cobra.Group{ID: GroupData, Title: "Materials And Calculations:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Store path, or a postgres:// URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagWorkDir, "work-dir", "", "Directory for calculation inputs (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default <root>/.calcflow/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log engine diagnostics to stderr")

	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupConfig)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if code, ok := IsSilentExit(err); ok {
			return code
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
		return 1
	}
	return 0
}

// requireArgs reports a friendly error instead of cobra's terse one.
func requireArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return errors.New("usage: " + cmd.CommandPath() + " " + usage)
		}
		if len(args) > n {
			return fmt.Errorf("unexpected argument %q", args[n])
		}
		return nil
	}
}

func printSection(title string) {
	fmt.Printf("%s\n", ui.RenderCategory(title))
}
