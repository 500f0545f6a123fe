package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/ui"
)

var (
	statusMaterial string
	statusJSON     bool
	statusCheck    bool
)

var statusCmd = &cobra.Command{
	Use:     "status [material]",
	GroupID: GroupWorkflow,
	Short:   "Show workflow progress",
	Long: `Show where each material is in its workflow.

Without a material, prints one line per material. With one, prints every
plan step with its latest calculation. Required steps that failed for good
are marked critical: they stop the workflow. Optional steps (FREQ, BAND,
DOSS, TRANSPORT, CHARGE+POTENTIAL) that fail do not.

With --check the exit code reports progress: 0 when every workflow is
complete, 1 while work remains, 2 when a workflow is blocked.

Examples:
  calcflow status
  calcflow status mgo
  calcflow status --material mgo --json
  calcflow status --check && echo done`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusMaterial, "material", "m", "", "Show this material")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Exit 1 while unfinished, 2 when blocked")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	material := statusMaterial
	if len(args) == 1 {
		material = args[0]
	}

	var reports []*engine.Status
	if material != "" {
		if err := checkMaterial(ctx, a.store, material); err != nil {
			return err
		}
		st, err := a.engine.WorkflowStatus(ctx, material)
		if err != nil {
			return err
		}
		reports = append(reports, st)
	} else {
		reports, err = allStatuses(ctx, a)
		if err != nil {
			return err
		}
	}

	switch {
	case statusJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(toStatusJSON(reports)); err != nil {
			return err
		}
	case material != "":
		printMaterialStatus(reports[0])
	default:
		printOverview(reports)
	}

	if statusCheck {
		return checkExit(reports)
	}
	return nil
}

func allStatuses(ctx context.Context, a *app) ([]*engine.Status, error) {
	materials, err := a.store.ListMaterials(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing materials: %w", err)
	}
	out := make([]*engine.Status, 0, len(materials))
	for _, m := range materials {
		st, err := a.engine.WorkflowStatus(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.ID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// checkExit maps the worst workflow state to an exit code.
func checkExit(reports []*engine.Status) error {
	code := 0
	for _, st := range reports {
		switch {
		case st.Blocked:
			code = 2
		case !st.Complete && code < 1:
			code = 1
		}
	}
	if code == 0 {
		return nil
	}
	return NewSilentExit(code)
}

// progressOf counts finished steps.
func progressOf(st *engine.Status) (done, total int) {
	for _, s := range st.Steps {
		if s.Final {
			done++
		}
	}
	return done, len(st.Steps)
}

func workflowLabel(st *engine.Status) string {
	switch {
	case st.Blocked:
		return style.Error.Render("blocked")
	case st.Complete:
		return style.Success.Render("complete")
	case st.WorkflowID == "":
		return style.Dim.Render("no workflow")
	default:
		return style.Info.Render("in progress")
	}
}

func printOverview(reports []*engine.Status) {
	if len(reports) == 0 {
		fmt.Printf("%s No materials yet\n", style.Dim.Render("○"))
		return
	}
	t := style.NewTable(
		style.Column{Name: "MATERIAL", Width: 16},
		style.Column{Name: "WORKFLOW", Width: 14},
		style.Column{Name: "PROGRESS", Width: 20},
		style.Column{Name: "STATE", Width: 12},
		style.Column{Name: "CURRENT", Width: 24},
	)
	for _, st := range reports {
		done, total := progressOf(st)
		pct := 0
		if total > 0 {
			pct = done * 100 / total
		}
		t.AddRow(st.Material.ID, orDash(st.WorkflowID), style.ProgressBar(pct, 10)+" "+fmt.Sprintf("%d/%d", done, total),
			workflowLabel(st), currentSteps(st))
	}
	fmt.Print(t.Render())
}

// currentSteps lists steps that are queued or running.
func currentSteps(st *engine.Status) string {
	var out string
	for _, s := range st.Steps {
		switch s.State {
		case engine.StatePending, engine.StateSubmitted, engine.StateRunning:
			if out != "" {
				out += ", "
			}
			out += s.Token
		}
	}
	return orDash(out)
}

func printMaterialStatus(st *engine.Status) {
	m := st.Material
	fmt.Printf("%s %s", ui.RenderAccent(ui.StepIconActive), style.Bold.Render(m.ID))
	if m.Formula != "" {
		fmt.Printf(" %s", style.Dim.Render("("+m.Formula+")"))
	}
	fmt.Printf("  workflow %s  %s\n", orDash(st.WorkflowID), workflowLabel(st))
	fmt.Printf("  %s\n\n", style.Dim.Render(m.SourceFile))

	t := style.NewStepTable()
	for _, s := range st.Steps {
		row := style.StepRow{
			Step:       s.Step,
			Token:      s.Token,
			State:      string(s.State),
			Optional:   s.Optional,
			Critical:   s.Critical,
			Dependency: s.Dependency,
			Note:       s.Reason,
		}
		if s.Calc != nil {
			row.JobID = s.Calc.JobID
		}
		t.Add(row)
	}
	fmt.Print(t.Render())

	if len(st.Extra) > 0 {
		fmt.Println()
		printSection("Outside the plan")
		for _, c := range st.Extra {
			fmt.Printf("  %s %s %s\n", ui.RenderStepIcon(string(c.Status)), c.CalcType, style.Dim.Render(string(c.Status)+" "+shortID(c.ID)))
		}
	}
	if st.Blocked {
		fmt.Println()
		style.PrintCritical("a required step failed; later steps will not be generated")
	}
}

type statusStepJSON struct {
	Step       int    `json:"step"`
	Token      string `json:"token"`
	State      string `json:"state"`
	Optional   bool   `json:"optional,omitempty"`
	Critical   bool   `json:"critical,omitempty"`
	Dependency string `json:"dependency,omitempty"`
	CalcID     string `json:"calc_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Retries    int    `json:"retries,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type statusJSONReport struct {
	Material string           `json:"material"`
	Workflow string           `json:"workflow,omitempty"`
	Complete bool             `json:"complete"`
	Blocked  bool             `json:"blocked"`
	Steps    []statusStepJSON `json:"steps"`
	Extra    []string         `json:"extra,omitempty"`
}

func toStatusJSON(reports []*engine.Status) []statusJSONReport {
	out := make([]statusJSONReport, 0, len(reports))
	for _, st := range reports {
		r := statusJSONReport{
			Material: st.Material.ID,
			Workflow: st.WorkflowID,
			Complete: st.Complete,
			Blocked:  st.Blocked,
			Steps:    make([]statusStepJSON, 0, len(st.Steps)),
		}
		for _, s := range st.Steps {
			js := statusStepJSON{
				Step:       s.Step,
				Token:      s.Token,
				State:      string(s.State),
				Optional:   s.Optional,
				Critical:   s.Critical,
				Dependency: s.Dependency,
				Reason:     s.Reason,
			}
			if s.Calc != nil {
				js.CalcID = s.Calc.ID
				js.JobID = s.Calc.JobID
				js.Retries = s.Calc.Settings.RetryCount
			}
			r.Steps = append(r.Steps, js)
		}
		for _, c := range st.Extra {
			r.Extra = append(r.Extra, c.CalcType)
		}
		out = append(out, r)
	}
	return out
}
