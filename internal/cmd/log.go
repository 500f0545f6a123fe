package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/ui"
)

// Log command flags
var (
	logTail     int
	logType     string
	logMaterial string
	logSince    string
	logFollow   bool
	logNoPager  bool
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: GroupDiag,
	Short:   "View the workflow event log",
	Long: `View the log of workflow events in logs/calcflow.log.

Events logged include:
  started           - workflow started for a material
  generated         - step input created
  submitted         - scheduler accepted a job
  submit_failed     - scheduler rejected a job
  retried           - failed calculation resubmitted
  retry_exhausted   - no retries left
  deferred          - step waits on an unfinished dependency
  blocked           - required dependency failed
  generation_failed - generator produced no input
  processed         - finished calculation handled
  status            - status recorded by 'calcflow mark'

Examples:
  calcflow log                       # Show last 50 events
  calcflow log -n 200                # Show last 200 events
  calcflow log --type blocked        # Show only blocked events
  calcflow log --material mgo        # Show events for one material
  calcflow log --since 1h            # Show events from last hour
  calcflow log -f                    # Follow log (like tail -f)`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func init() {
	logCmd.Flags().IntVarP(&logTail, "tail", "n", 50, "Number of events to show")
	logCmd.Flags().StringVarP(&logType, "type", "t", "", "Filter by event type")
	logCmd.Flags().StringVarP(&logMaterial, "material", "m", "", "Filter by material")
	logCmd.Flags().StringVar(&logSince, "since", "", "Show events since duration (e.g., 1h, 30m, 24h)")
	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logCmd.Flags().BoolVar(&logNoPager, "no-pager", false, "Do not pipe output to a pager")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logPath := calclog.LogPath(root)

	if logFollow {
		return followLog(logPath)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Printf("%s No log file yet (no events recorded)\n", style.Dim.Render("○"))
		return nil
	}

	events, err := calclog.ReadEvents(root)
	if err != nil {
		return fmt.Errorf("reading events: %w", err)
	}

	filter := calclog.Filter{
		Type:     calclog.EventType(logType),
		Material: logMaterial,
	}
	if logSince != "" {
		duration, err := time.ParseDuration(logSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.Since = time.Now().Add(-duration)
	}
	events = calclog.FilterEvents(events, filter)

	if logTail > 0 && len(events) > logTail {
		events = events[len(events)-logTail:]
	}
	if len(events) == 0 {
		fmt.Printf("%s No events match filter\n", style.Dim.Render("○"))
		return nil
	}

	var sb strings.Builder
	for _, e := range events {
		sb.WriteString(formatEvent(e))
		sb.WriteByte('\n')
	}
	return ui.NewPager(cfg.UI.Pager, logNoPager).Page(sb.String())
}

// followLog uses tail -f to follow the log file.
func followLog(logPath string) error {
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return fmt.Errorf("creating logs directory: %w", err)
		}
		f, err := os.Create(logPath)
		if err != nil {
			return fmt.Errorf("creating log file: %w", err)
		}
		_ = f.Close()
	}

	fmt.Printf("%s Following %s (Ctrl+C to stop)\n\n", style.Dim.Render("○"), logPath)

	tailCmd := exec.Command("tail", "-f", logPath)
	tailCmd.Stdout = os.Stdout
	tailCmd.Stderr = os.Stderr
	return tailCmd.Run()
}

// formatEvent renders one event with its type color-coded.
func formatEvent(e calclog.Event) string {
	ts := e.Timestamp.Format("2006-01-02 15:04:05")
	tag := "[" + string(e.Type) + "]"

	var typeStr string
	switch e.Type {
	case calclog.EventSubmitted, calclog.EventRetried, calclog.EventProcessed:
		typeStr = style.Success.Render(tag)
	case calclog.EventStarted, calclog.EventGenerated:
		typeStr = style.Bold.Render(tag)
	case calclog.EventDeferred, calclog.EventStatus:
		typeStr = style.Dim.Render(tag)
	case calclog.EventSubmitFailed, calclog.EventRetryExhausted, calclog.EventGenerationFailed:
		typeStr = style.Warning.Render(tag)
	case calclog.EventBlocked:
		typeStr = style.Error.Render(tag)
	default:
		typeStr = tag
	}
	return fmt.Sprintf("%s %s %s %s", style.Dim.Render(ts), typeStr, e.Subject(), e.Detail())
}
