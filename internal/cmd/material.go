package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/store"
	"github.com/calcflow/calcflow/internal/style"
	"github.com/calcflow/calcflow/internal/suggest"
)

var (
	materialFormula  string
	materialType     string
	materialWorkflow string
	materialStart    bool
)

var materialCmd = &cobra.Command{
	Use:     "material",
	GroupID: GroupData,
	Short:   "Manage materials",
	RunE:    requireSubcommand,
}

var materialAddCmd = &cobra.Command{
	Use:   "add <id> <structure-file>",
	Short: "Register a material",
	Long: `Register a material and the structure file its first step is generated from.

Adding a material that already exists leaves the stored record unchanged.

Examples:
  calcflow material add mgo structures/MgO.cif --workflow full
  calcflow material add nacl structures/NaCl.cif --workflow opt-sp --start`,
	Args: requireArgs(2, "<id> <structure-file>"),
	RunE: runMaterialAdd,
}

var materialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List materials",
	Args:  cobra.NoArgs,
	RunE:  runMaterialList,
}

func init() {
	materialAddCmd.Flags().StringVar(&materialFormula, "formula", "", "Chemical formula")
	materialAddCmd.Flags().StringVar(&materialType, "type", "", "Structure file type (default: file extension)")
	materialAddCmd.Flags().StringVarP(&materialWorkflow, "workflow", "w", "", "Workflow plan id")
	materialAddCmd.Flags().BoolVar(&materialStart, "start", false, "Start the workflow right away")

	materialCmd.AddCommand(materialAddCmd)
	materialCmd.AddCommand(materialListCmd)
	rootCmd.AddCommand(materialCmd)
}

func runMaterialAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, source := args[0], absPath(args[1])
	if materialWorkflow != "" {
		if err := checkPlan(a.plans, materialWorkflow); err != nil {
			return err
		}
	}
	if materialStart && materialWorkflow == "" {
		return errors.New("--start requires --workflow")
	}

	sourceType := materialType
	if sourceType == "" {
		sourceType = strings.TrimPrefix(strings.ToLower(filepath.Ext(source)), ".")
	}

	m, err := a.store.EnsureMaterial(ctx, store.Material{
		ID:         id,
		Formula:    materialFormula,
		SourceFile: source,
		SourceType: sourceType,
		WorkflowID: materialWorkflow,
	})
	if err != nil {
		return fmt.Errorf("adding material: %w", err)
	}
	if m.SourceFile != source || (materialWorkflow != "" && m.WorkflowID != materialWorkflow) {
		style.PrintWarning("material %s already exists (source %s, workflow %q); keeping it", m.ID, m.SourceFile, m.WorkflowID)
	} else {
		fmt.Printf("%s Added material %s\n", style.SuccessPrefix, style.Bold.Render(m.ID))
	}

	if !materialStart {
		return nil
	}
	out, err := a.engine.StartWorkflow(ctx, m.ID, materialWorkflow)
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	printOutcome(out)
	return outcomeError(out)
}

func runMaterialList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	materials, err := a.store.ListMaterials(ctx)
	if err != nil {
		return fmt.Errorf("listing materials: %w", err)
	}
	if len(materials) == 0 {
		fmt.Printf("%s No materials yet\n", style.Dim.Render("○"))
		return nil
	}

	t := style.NewTable(
		style.Column{Name: "ID", Width: 16},
		style.Column{Name: "FORMULA", Width: 12},
		style.Column{Name: "WORKFLOW", Width: 14},
		style.Column{Name: "SOURCE", Width: 48},
	)
	for _, m := range materials {
		t.AddRow(m.ID, m.Formula, orDash(m.WorkflowID), m.SourceFile)
	}
	fmt.Print(t.Render())
	return nil
}

// checkPlan verifies a workflow id and suggests near matches.
func checkPlan(plans *plan.Loader, id string) error {
	if _, err := plans.Load(id); err == nil {
		return nil
	} else if !errors.Is(err, plan.ErrNotFound) {
		return err
	}
	known, _ := plans.List()
	fmt.Print(style.SuggestionBox(fmt.Sprintf("Unknown workflow %q", id),
		suggest.FindSimilar(id, known, 3), "List plans with: calcflow workflow list"))
	return NewSilentExit(1)
}

// checkMaterial verifies a material id and suggests near matches.
func checkMaterial(ctx context.Context, s store.Store, id string) error {
	if _, err := s.GetMaterial(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	materials, err := s.ListMaterials(ctx)
	if err != nil {
		return err
	}
	known := make([]string, 0, len(materials))
	for _, m := range materials {
		known = append(known, m.ID)
	}
	fmt.Print(style.SuggestionBox(fmt.Sprintf("Unknown material %q", id),
		suggest.FindSimilar(id, known, 3), "List materials with: calcflow material list"))
	return NewSilentExit(1)
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
	}
	return cmd.Help()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
