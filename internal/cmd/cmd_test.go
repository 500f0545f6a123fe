package cmd

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/config"
	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/store"
)

func TestCommandsHaveKnownGroups(t *testing.T) {
	groups := make(map[string]bool)
	for _, g := range rootCmd.Groups() {
		groups[g.ID] = true
	}
	for _, c := range rootCmd.Commands() {
		if c.GroupID == "" {
			continue
		}
		assert.True(t, groups[c.GroupID], "%s uses unknown group %q", c.Name(), c.GroupID)
	}

	for _, name := range []string{"status", "process", "workflow", "init", "material", "mark", "submit", "retry", "sweep", "log", "watch", "locks", "version"} {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
	for _, sub := range [][]string{{"workflow", "start"}, {"workflow", "plan"}, {"material", "add"}, {"material", "list"}} {
		c, _, err := rootCmd.Find(sub)
		require.NoError(t, err)
		assert.Equal(t, sub[1], c.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	for _, name := range []string{"db", "work-dir", "config", "verbose"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
	for _, c := range []*cobra.Command{statusCmd, processCmd, sweepCmd} {
		assert.NotNil(t, c.Flags().Lookup("material"), c.Name())
	}
}

func TestRequireArgs(t *testing.T) {
	check := requireArgs(2, "<calc-id> <status>")
	assert.ErrorContains(t, check(markCmd, []string{"abc"}), "usage: ")
	assert.ErrorContains(t, check(markCmd, []string{"a", "b", "c"}), `unexpected argument "c"`)
	assert.NoError(t, check(markCmd, []string{"a", "b"}))
}

func TestApplyFlags(t *testing.T) {
	t.Cleanup(func() { flagDB, flagWorkDir = "", "" })

	cfg := config.Default()
	flagDB = "postgres://calc@db/calcflow"
	applyFlags(cfg)
	assert.Equal(t, store.ProviderPostgres, cfg.Store.Provider)
	assert.Equal(t, "postgres://calc@db/calcflow", cfg.Store.URL)

	cfg = config.Default()
	flagDB = "state.json"
	flagWorkDir = "runs"
	applyFlags(cfg)
	assert.Equal(t, store.ProviderFile, cfg.Store.Provider)
	assert.True(t, filepath.IsAbs(cfg.Store.Path), cfg.Store.Path)
	assert.Equal(t, "state.json", filepath.Base(cfg.Store.Path))
	assert.True(t, filepath.IsAbs(cfg.Engine.WorkDir))
}

func TestEngineOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.WorkDir = t.TempDir()
	cfg.Engine.MaxRetries = 5

	opts, err := engineOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine.WorkDir, opts.WorkRoot)
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, plan.ParallelPairs{{"BAND", "DOSS"}}, opts.ParallelPairs)
	assert.Equal(t, ".d12", opts.InputExt)
	assert.Equal(t, "submit.sh", opts.ScriptName)

	cfg.Scheduler.ScriptTemplate = filepath.Join(t.TempDir(), "missing.tmpl")
	_, err = engineOptions(cfg)
	assert.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".calcflow", "config.toml")

	wrote, err := initConfig(path, false)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = initConfig(path, false)
	require.NoError(t, err)
	assert.False(t, wrote, "existing config must be kept")

	wrote, err = initConfig(path, true)
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestOutcomeLines(t *testing.T) {
	out := &engine.Outcome{
		Material:     "mgo",
		Trigger:      "0123456789abcdef",
		Submitted:    []engine.Submission{{CalcID: "c1", Token: "BAND", JobID: "1001"}},
		SubmitFailed: []engine.StepError{{Token: "DOSS", Err: errors.New("sbatch: queue full")}},
		Deferred:     []engine.Deferral{{Token: "FREQ", Dependency: "OPT2"}},
		Failed:       []engine.StepError{{Token: "TRANSPORT", Err: errors.New("exit 1")}},
		Skipped:      []string{"SP"},
	}
	text := strings.Join(outcomeLines(out), "\n")

	assert.Contains(t, text, "mgo")
	assert.Contains(t, text, "01234567")
	assert.Contains(t, text, "BAND submitted as job 1001")
	assert.Contains(t, text, "DOSS created but not submitted: sbatch: queue full")
	assert.Contains(t, text, "FREQ waiting on OPT2")
	assert.Contains(t, text, "TRANSPORT generation failed: exit 1")
	assert.Contains(t, text, "skipped: SP")
	assert.NotContains(t, text, "CRITICAL")

	done := strings.Join(outcomeLines(&engine.Outcome{Material: "si", AlreadyProcessed: true}), "\n")
	assert.Contains(t, done, "already processed")

	empty := strings.Join(outcomeLines(&engine.Outcome{Material: "si"}), "\n")
	assert.Contains(t, empty, "nothing to do")
}

func TestOutcomeError(t *testing.T) {
	code, ok := IsSilentExit(outcomeError(&engine.Outcome{}))
	assert.False(t, ok)
	assert.Zero(t, code)

	code, _ = IsSilentExit(outcomeError(&engine.Outcome{SubmitFailed: []engine.StepError{{Token: "SP"}}}))
	assert.Equal(t, 1, code)

	critical := &engine.Outcome{
		SubmitFailed: []engine.StepError{{Token: "SP"}},
		Critical:     &engine.BlockedError{Material: "mgo", Token: "SP", Dependency: "SP", Critical: true},
	}
	code, _ = IsSilentExit(outcomeError(critical))
	assert.Equal(t, 2, code)
}

func TestWorstExit(t *testing.T) {
	var result error
	result = worstExit(result, nil)
	assert.NoError(t, result)
	result = worstExit(result, NewSilentExit(2))
	result = worstExit(result, NewSilentExit(1))
	code, _ := IsSilentExit(result)
	assert.Equal(t, 2, code)
}

func TestSweepError(t *testing.T) {
	assert.NoError(t, sweepError(&engine.SweepReport{Outcomes: []*engine.Outcome{{Material: "mgo"}}}))

	withErrors := &engine.SweepReport{Errors: []error{errors.New("lock timeout")}}
	code, _ := IsSilentExit(sweepError(withErrors))
	assert.Equal(t, 1, code)
}

func TestCheckExit(t *testing.T) {
	complete := &engine.Status{Complete: true}
	running := &engine.Status{}
	blocked := &engine.Status{Blocked: true}

	assert.NoError(t, checkExit([]*engine.Status{complete}))

	code, _ := IsSilentExit(checkExit([]*engine.Status{complete, running}))
	assert.Equal(t, 1, code)

	code, _ = IsSilentExit(checkExit([]*engine.Status{blocked, running}))
	assert.Equal(t, 2, code)
	code, _ = IsSilentExit(checkExit([]*engine.Status{running, blocked}))
	assert.Equal(t, 2, code)
}

func TestProgressAndCurrentSteps(t *testing.T) {
	st := &engine.Status{Steps: []engine.StepStatus{
		{Token: "OPT", State: engine.StateCompleted, Final: true},
		{Token: "SP", State: engine.StateRunning},
		{Token: "BAND", State: engine.StateNotStarted},
		{Token: "DOSS", State: engine.StatePending},
	}}
	done, total := progressOf(st)
	assert.Equal(t, 1, done)
	assert.Equal(t, 4, total)
	assert.Equal(t, "SP, DOSS", currentSteps(st))
	assert.Equal(t, "-", currentSteps(&engine.Status{}))
}

func TestToStatusJSON(t *testing.T) {
	st := &engine.Status{
		Material:   &store.Material{ID: "mgo"},
		WorkflowID: "full",
		Blocked:    true,
		Steps: []engine.StepStatus{
			{Step: 1, Token: "OPT", State: engine.StateFailed, Critical: true, Final: true,
				Calc: &store.Calculation{ID: "c1", JobID: "77", Settings: store.Settings{RetryCount: 3}}},
			{Step: 2, Token: "SP", Dependency: "OPT", State: engine.StateNotStarted},
		},
		Extra: []*store.Calculation{{CalcType: "PHONON"}},
	}
	got := toStatusJSON([]*engine.Status{st})
	require.Len(t, got, 1)
	assert.Equal(t, "mgo", got[0].Material)
	assert.True(t, got[0].Blocked)
	require.Len(t, got[0].Steps, 2)
	assert.Equal(t, statusStepJSON{Step: 1, Token: "OPT", State: "failed", Critical: true, CalcID: "c1", JobID: "77", Retries: 3}, got[0].Steps[0])
	assert.Equal(t, "OPT", got[0].Steps[1].Dependency)
	assert.Equal(t, []string{"PHONON"}, got[0].Extra)
}

func TestPlanRows(t *testing.T) {
	p := &plan.Plan{ID: "t", Steps: []plan.Step{
		{Token: "OPT"},
		{Token: "SP"},
		{Token: "BAND", Args: []string{"--shrink=8"}},
	}}
	rows := planRows(p)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"1", "OPT", "required", "structure", "-"}, rows[0])
	assert.Equal(t, []string{"2", "SP", "required", "OPT", "-"}, rows[1])
	assert.Equal(t, []string{"3", "BAND", "optional", "SP", "--shrink=8"}, rows[2])
}

func TestFormatEvent(t *testing.T) {
	e := calclog.Event{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local),
		Type:      calclog.EventSubmitted,
		Material:  "mgo",
		CalcType:  "SP",
		Context:   "4242",
	}
	line := formatEvent(e)
	assert.Contains(t, line, "2026-03-01 12:00:00")
	assert.Contains(t, line, "[submitted]")
	assert.Contains(t, line, "mgo/SP submitted as job 4242")
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "45s", formatAge(45*time.Second))
	assert.Equal(t, "12m", formatAge(12*time.Minute+5*time.Second))
	assert.Equal(t, "3h", formatAge(3*time.Hour+20*time.Minute))
}

func TestColorizeHelpOutput_KeepsText(t *testing.T) {
	help := "Workflow Commands:\n  status      Show workflow progress\n\nFlags:\n  -m, --material string   Show this material (default \"\")\n"
	out := colorizeHelpOutput(help)
	for _, want := range []string{"Workflow Commands:", "status", "Show workflow progress", "--material", "string"} {
		assert.Contains(t, out, want)
	}
}

func TestVersionString(t *testing.T) {
	assert.True(t, strings.HasPrefix(versionString(), "calcflow version "+Version))
}
