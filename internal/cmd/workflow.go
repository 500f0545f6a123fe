package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/calctype"
	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/ui"
	"github.com/calcflow/calcflow/internal/workspace"
)

var workflowUpdate bool

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	GroupID: GroupWorkflow,
	Short:   "Start workflows and inspect plans",
	RunE:    requireSubcommand,
}

var workflowStartCmd = &cobra.Command{
	Use:   "start <material> [workflow]",
	Short: "Generate and submit the first step for a material",
	Long: `Generate the first plan step from the material's structure file and submit it.

The workflow defaults to the one the material was added with. Later steps
follow as calculations finish ('calcflow process' or 'calcflow sweep').
Starting a workflow that already started does nothing.

Examples:
  calcflow workflow start mgo
  calcflow workflow start mgo full`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWorkflowStart,
}

var workflowPlanCmd = &cobra.Command{
	Use:   "plan <workflow>",
	Short: "Show the steps of a workflow plan",
	Long: `Show a plan's steps, what each step waits for, and its overrides.

Examples:
  calcflow workflow plan full`,
	Args: requireArgs(1, "<workflow>"),
	RunE: runWorkflowPlan,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available workflow plans",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowList,
}

var workflowCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare installed plans with the built-in ones",
	Long: `Report installed plan files that are outdated, edited, missing or unknown.

With --update, outdated and missing plans are rewritten from the built-in
copies. Plans you edited are left alone.`,
	Args: cobra.NoArgs,
	RunE: runWorkflowCheck,
}

func init() {
	workflowCheckCmd.Flags().BoolVar(&workflowUpdate, "update", false, "Install newer built-in plans")

	workflowCmd.AddCommand(workflowStartCmd)
	workflowCmd.AddCommand(workflowPlanCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowCheckCmd)
	rootCmd.AddCommand(workflowCmd)
}

func runWorkflowStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := checkMaterial(ctx, a.store, args[0]); err != nil {
		return err
	}
	workflowID := ""
	if len(args) == 2 {
		workflowID = args[1]
		if err := checkPlan(a.plans, workflowID); err != nil {
			return err
		}
	}

	out, err := a.engine.StartWorkflow(ctx, args[0], workflowID)
	if errors.Is(err, engine.ErrNoWorkflow) {
		return fmt.Errorf("%s has no workflow; pass one: calcflow workflow start %s <workflow>", args[0], args[0])
	}
	if err != nil {
		return err
	}
	printOutcome(out)
	return outcomeError(out)
}

func runWorkflowPlan(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	loader, err := plan.NewLoader(cfg.Plans.Dirs, cfg.Plans.CacheSize)
	if err != nil {
		return err
	}
	if err := checkPlan(loader, args[0]); err != nil {
		return err
	}
	p, err := loader.Load(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", style.Bold.Render(p.ID), style.Dim.Render(p.Source))
	if p.Description != "" {
		fmt.Print(ui.RenderMarkdown(p.Description, cfg.UI.WrapWidth))
	}
	fmt.Println()

	t := style.NewTable(
		style.Column{Name: "#", Width: 3, Align: style.AlignRight},
		style.Column{Name: "STEP", Width: 20},
		style.Column{Name: "KIND", Width: 10},
		style.Column{Name: "AFTER", Width: 14},
		style.Column{Name: "OVERRIDES", Width: 40},
	)
	for _, row := range planRows(p) {
		t.AddRow(row...)
	}
	fmt.Print(t.Render())
	return nil
}

// planRows renders each plan step as table cells.
func planRows(p *plan.Plan) [][]string {
	rows := make([][]string, 0, len(p.Steps))
	for i, s := range p.Steps {
		kind := "required"
		if calctype.Parse(s.Token).IsOptional() {
			kind = "optional"
		}
		after := "structure"
		if dep, ok := p.DependencyOf(s.Token); ok {
			after = dep
		} else if i > 0 {
			after = "-"
		}
		overrides := append(s.Settings.Flags(), s.Args...)
		rows = append(rows, []string{strconv.Itoa(i + 1), s.Token, kind, after, orDash(strings.Join(overrides, " "))})
	}
	return rows
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	loader, err := plan.NewLoader(cfg.Plans.Dirs, cfg.Plans.CacheSize)
	if err != nil {
		return err
	}
	ids, err := loader.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, err := loader.Load(id)
		if err != nil {
			fmt.Printf("  %s %s %s\n", style.ErrorPrefix, id, style.Dim.Render(err.Error()))
			continue
		}
		fmt.Printf("  %s %s\n", style.Bold.Render(id), style.Dim.Render(strings.Join(p.Tokens(), " → ")))
	}
	return nil
}

func runWorkflowCheck(cmd *cobra.Command, args []string) error {
	root, err := findRoot()
	if err != nil {
		return err
	}
	dir := workspace.PathsFor(root).Plans

	report, err := plan.CheckHealth(dir)
	if err != nil {
		return err
	}
	for _, f := range report.Plans {
		var icon string
		switch f.Status {
		case plan.HealthOK:
			icon = style.SuccessPrefix
		case plan.HealthModified, plan.HealthUntracked:
			icon = style.Dim.Render("○")
		case plan.HealthError:
			icon = style.ErrorPrefix
		default:
			icon = style.WarningPrefix
		}
		fmt.Printf("  %s %s %s\n", icon, f.Name, style.Dim.Render(f.Status))
	}

	if !report.NeedsUpdate() {
		fmt.Printf("%s Plans are up to date\n", style.SuccessPrefix)
		return nil
	}
	if !workflowUpdate {
		fmt.Printf("\n%s Run 'calcflow workflow check --update' to install newer plans\n", style.ArrowPrefix)
		return NewSilentExit(1)
	}
	updated, skipped, err := plan.Update(dir)
	if err != nil {
		return err
	}
	fmt.Printf("%s Updated %d plan(s), kept %d edited\n", style.SuccessPrefix, updated, skipped)
	return nil
}
