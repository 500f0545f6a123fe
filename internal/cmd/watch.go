package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/calcflow/calcflow/internal/tui/watch"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: GroupWorkflow,
	Short:   "Live view of every material's workflow",
	Long: `Open a terminal dashboard of every material's workflow, refreshed on a timer.

Keys:
  j/k, ↑/↓   move
  enter      expand or collapse a material
  r          refresh now
  ?          help
  q          quit

Examples:
  calcflow watch
  calcflow watch --interval 30s`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "n", 10*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("watch needs a terminal; use 'calcflow status' instead")
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	list := func(ctx context.Context) ([]string, error) {
		materials, err := a.store.ListMaterials(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(materials))
		for _, m := range materials {
			ids = append(ids, m.ID)
		}
		return ids, nil
	}

	m := watch.New(watch.EngineLoader(a.engine, list), watchInterval)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running watch: %w", err)
	}
	return nil
}
