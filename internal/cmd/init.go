package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/config"
	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	GroupID: GroupConfig,
	Short:   "Create a calcflow project",
	Long: `Create a calcflow project in dir (default: current directory).

Writes .calcflow/config.toml with the built-in defaults, installs the
built-in workflow plans into .calcflow/plans, and creates the work and
log directories. Existing plan files are never overwritten; run
'calcflow workflow check --update' to pick up newer built-in plans.

Examples:
  calcflow init
  calcflow init ~/projects/perovskites
  calcflow init --force        # Rewrite config.toml with defaults`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config.toml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	paths := workspace.PathsFor(root)

	wroteConfig, err := initConfig(paths.Config, initForce)
	if err != nil {
		return err
	}

	installed, err := plan.Provision(paths.Plans)
	if err != nil {
		return fmt.Errorf("installing plans: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	for _, d := range []string{paths.Locks, paths.Logs, cfg.Engine.WorkDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}

	fmt.Printf("%s Initialized calcflow project in %s\n", style.SuccessPrefix, style.Bold.Render(root))
	if wroteConfig {
		fmt.Printf("  %s wrote %s\n", style.ArrowPrefix, paths.Config)
	} else {
		fmt.Printf("  %s kept existing %s\n", style.Dim.Render("○"), paths.Config)
	}
	fmt.Printf("  %s installed %d plan(s) into %s\n", style.ArrowPrefix, installed, paths.Plans)
	fmt.Printf("  %s work directory %s\n", style.ArrowPrefix, cfg.Engine.WorkDir)
	fmt.Println()
	fmt.Printf("Next: %s\n", style.Dim.Render("calcflow material add <id> <structure-file> --workflow <plan>"))
	return nil
}

// initConfig writes the default config unless one exists and force is unset.
func initConfig(path string, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
	if err := config.Write(path, config.Default()); err != nil {
		return false, err
	}
	return true, nil
}
