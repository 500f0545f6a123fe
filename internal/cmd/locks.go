package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/lock"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/workspace"
)

var locksClean bool

var locksCmd = &cobra.Command{
	Use:     "locks",
	GroupID: GroupDiag,
	Short:   "Show material lock holders",
	Long: `Show which processes hold, or last held, a material lock.

A holder whose lock is no longer taken is stale. The OS releases the lock
when its process dies; --clean only removes the leftover holder records.

Examples:
  calcflow locks
  calcflow locks --clean`,
	Args: cobra.NoArgs,
	RunE: runLocks,
}

func init() {
	locksCmd.Flags().BoolVar(&locksClean, "clean", false, "Remove stale holder records")
	rootCmd.AddCommand(locksCmd)
}

func runLocks(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	m := lock.NewManager(workspace.PathsFor(root).Locks, cfg.Engine.LockTimeout.Duration)

	if locksClean {
		n, err := m.CleanStaleHolders()
		if err != nil {
			return err
		}
		fmt.Printf("%s Removed %d stale holder record(s)\n", style.SuccessPrefix, n)
		return nil
	}

	holders, err := m.Holders()
	if err != nil {
		return err
	}
	if len(holders) == 0 {
		fmt.Printf("%s No locks held\n", style.Dim.Render("○"))
		return nil
	}
	t := style.NewTable(
		style.Column{Name: "MATERIAL", Width: 16},
		style.Column{Name: "PID", Width: 8, Align: style.AlignRight},
		style.Column{Name: "HOST", Width: 16},
		style.Column{Name: "SINCE", Width: 10},
		style.Column{Name: "PURPOSE", Width: 28},
		style.Column{Name: "", Width: 6},
	)
	for _, h := range holders {
		stale := ""
		if m.IsStale(h) {
			stale = style.Warning.Render("stale")
		}
		t.AddRow(h.Material, strconv.Itoa(h.PID), h.Hostname, formatAge(time.Since(h.AcquiredAt)), h.Purpose, stale)
	}
	fmt.Print(t.Render())
	return nil
}

// formatAge renders a duration as 45s, 12m or 3h.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
