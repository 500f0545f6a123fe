package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/config"
	"github.com/calcflow/calcflow/internal/engine"
	"github.com/calcflow/calcflow/internal/generator"
	"github.com/calcflow/calcflow/internal/lock"
	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/recovery"
	"github.com/calcflow/calcflow/internal/scheduler"
	"github.com/calcflow/calcflow/internal/store"
	"github.com/calcflow/calcflow/internal/ui"
	"github.com/calcflow/calcflow/internal/workspace"
)

// app holds everything a command needs, wired from configuration.
type app struct {
	root   string
	paths  workspace.Paths
	cfg    *config.Config
	store  store.Store
	plans  *plan.Loader
	locks  *lock.Manager
	events *calclog.Logger
	engine *engine.Engine
	log    *slog.Logger
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// findRoot locates the project the command runs against.
func findRoot() (string, error) {
	root, err := workspace.FindFromCwdOrError()
	if err != nil {
		return "", err
	}
	return root, nil
}

// loadConfig reads configuration and applies global flags.
func loadConfig(root string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		if _, statErr := os.Stat(flagConfig); statErr != nil {
			return nil, fmt.Errorf("--config: %w", statErr)
		}
		cfg, err = config.LoadFile(root, flagConfig)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.UI.Theme != "" {
		ui.InitTheme(cfg.UI.Theme)
		ui.ApplyThemeMode()
	}
	return cfg, nil
}

// applyFlags overrides config with --db and --work-dir.
func applyFlags(cfg *config.Config) {
	if flagDB != "" {
		if isDatabaseURL(flagDB) {
			cfg.Store.Provider = store.ProviderPostgres
			cfg.Store.URL = flagDB
		} else {
			cfg.Store.Provider = store.ProviderFile
			cfg.Store.Path = absPath(flagDB)
		}
	}
	if flagWorkDir != "" {
		cfg.Engine.WorkDir = absPath(flagWorkDir)
	}
}

func isDatabaseURL(s string) bool {
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// newLogger returns the diagnostics logger; quiet unless --verbose.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openApp wires the store, plan loader, external commands, locks and engine.
func openApp(ctx context.Context) (*app, error) {
	root, err := findRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, root, cfg, newLogger(os.Stderr))
}

func newApp(ctx context.Context, root string, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		root:  root,
		paths: workspace.PathsFor(root),
		cfg:   cfg,
		log:   logger,
	}

	s, err := store.Open(ctx, store.Config{
		Provider: cfg.Store.Provider,
		Path:     cfg.Store.Path,
		URL:      cfg.Store.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.store = s

	a.plans, err = plan.NewLoader(cfg.Plans.Dirs, cfg.Plans.CacheSize)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("creating plan loader: %w", err)
	}

	gen, err := generator.NewCommand(cfg.Generator.Command, config.EnvList(cfg.Generator.Env), cfg.Generator.Timeout.Duration)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("generator: %w", err)
	}
	sched, err := scheduler.NewCommand(cfg.Scheduler.Command, config.EnvList(cfg.Scheduler.Env),
		cfg.Scheduler.JobPattern, cfg.Scheduler.Timeout.Duration)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	a.locks = lock.NewManager(a.paths.Locks, cfg.Engine.LockTimeout.Duration)
	a.events = calclog.NewLogger(root)

	opts, err := engineOptions(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.engine, err = engine.New(engine.Deps{
		Store:     s,
		Plans:     a.plans,
		Generator: gen,
		Scheduler: sched,
		Locks:     a.locks,
		Recoverer: recovery.New(cfg.Recovery.Command, cfg.Recovery.Timeout.Duration),
		Events:    a.events,
		Logger:    logger,
	}, opts)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// engineOptions maps configuration onto engine options.
func engineOptions(cfg *config.Config) (engine.Options, error) {
	opts := engine.DefaultOptions(cfg.Engine.WorkDir)
	opts.MaxRetries = cfg.Engine.MaxRetries
	opts.Workers = cfg.Engine.Workers

	pairs, err := cfg.Engine.Pairs()
	if err != nil {
		return opts, err
	}
	opts.ParallelPairs = plan.ParallelPairs(pairs)

	if cfg.Generator.InputExt != "" {
		opts.InputExt = cfg.Generator.InputExt
	}
	if cfg.Generator.OutputExt != "" {
		opts.OutputExt = cfg.Generator.OutputExt
	}
	if cfg.Generator.IntermediateGlobs != nil {
		opts.IntermediateGlobs = cfg.Generator.IntermediateGlobs
	}
	if cfg.Generator.NeedsIntermediate != nil {
		opts.NeedsIntermediate = cfg.Generator.NeedsIntermediate
	}
	if cfg.Scheduler.ScriptName != "" {
		opts.ScriptName = cfg.Scheduler.ScriptName
	}
	if cfg.Scheduler.ScriptTemplate != "" {
		tmpl, err := engine.LoadScriptTemplate(cfg.Scheduler.ScriptTemplate)
		if err != nil {
			return opts, err
		}
		opts.ScriptTemplate = tmpl
	}
	return opts, nil
}
