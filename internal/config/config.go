// Package config loads calcflow configuration.
//
// Resolution order (later overrides earlier):
//  1. Built-in defaults (embedded defaults.toml)
//  2. Project config (<root>/.calcflow/config.toml)
//  3. Environment, including <root>/.env
//  4. Command-line flags, applied by the caller
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed defaults.toml
var defaultsTOML string

// Environment variables read by Load.
const (
	EnvStore       = "CALCFLOW_STORE"
	EnvDB          = "CALCFLOW_DB"
	EnvDatabaseURL = "CALCFLOW_DATABASE_URL"
	EnvWorkDir     = "CALCFLOW_WORK_DIR"
	EnvMaxRetries  = "CALCFLOW_MAX_RETRIES"
)

// Config is the full calcflow configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Engine    EngineConfig    `toml:"engine"`
	Generator GeneratorConfig `toml:"generator"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Recovery  RecoveryConfig  `toml:"recovery"`
	Plans     PlansConfig     `toml:"plans"`
	Sweep     SweepConfig     `toml:"sweep"`
	UI        UIConfig        `toml:"ui"`

	// Root is the project root paths were resolved against.
	Root string `toml:"-"`
}

// StoreConfig selects the persisted store provider.
type StoreConfig struct {
	// Provider is "file" or "postgres".
	Provider string `toml:"provider"`

	// Path is the JSON document for the file provider.
	Path string `toml:"path"`

	// URL is the connection string for the postgres provider.
	URL string `toml:"url,omitempty"`
}

// EngineConfig controls the workflow engine.
type EngineConfig struct {
	// WorkDir is where calculation directories are created:
	// <work_dir>/<material>/<calc type>/
	WorkDir string `toml:"work_dir"`

	MaxRetries int `toml:"max_retries"`

	// LockTimeout bounds waiting for a material lock.
	LockTimeout Duration `toml:"lock_timeout"`

	// Workers bounds how many materials a sweep processes at once.
	Workers int `toml:"workers"`

	// ParallelPairs lists base kinds generated together when adjacent.
	ParallelPairs [][]string `toml:"parallel_pairs"`
}

// GeneratorConfig configures the external input generator.
type GeneratorConfig struct {
	// Command is an argv template; see generator.CommandGenerator.
	Command []string          `toml:"command"`
	Env     map[string]string `toml:"env,omitempty"`
	Timeout Duration          `toml:"timeout"`

	// InputExt and OutputExt name the generated input and the
	// calculation's eventual output.
	InputExt  string `toml:"input_ext"`
	OutputExt string `toml:"output_ext"`

	// IntermediateGlobs select files copied next to the source output.
	IntermediateGlobs []string `toml:"intermediate_globs"`

	// NeedsIntermediate lists kinds that cannot be generated without them.
	NeedsIntermediate []string `toml:"needs_intermediate"`
}

// SchedulerConfig configures the external batch scheduler.
type SchedulerConfig struct {
	Command    []string          `toml:"command"`
	Env        map[string]string `toml:"env,omitempty"`
	JobPattern string            `toml:"job_pattern"`
	Timeout    Duration          `toml:"timeout"`

	// ScriptName is the submission script written into each calculation directory.
	ScriptName string `toml:"script_name"`

	// ScriptTemplate is a text/template file; empty uses the built-in template.
	ScriptTemplate string `toml:"script_template,omitempty"`
}

// RecoveryConfig configures the optional recovery command. An empty
// command disables recovery.
type RecoveryConfig struct {
	Command []string `toml:"command,omitempty"`
	Timeout Duration `toml:"timeout"`
}

// PlansConfig lists directories searched for workflow plans.
type PlansConfig struct {
	Dirs      []string `toml:"dirs"`
	CacheSize int      `toml:"cache_size"`
}

// SweepConfig configures the periodic sweep loop.
type SweepConfig struct {
	Interval Duration `toml:"interval"`
}

// UIConfig tunes terminal output.
type UIConfig struct {
	// Theme is "auto", "dark" or "light". CALCFLOW_THEME wins over it.
	Theme string `toml:"theme"`

	// Pager pages long output such as the event log. Empty uses $PAGER,
	// then less; "off" disables paging.
	Pager string `toml:"pager"`

	// WrapWidth caps the wrap width of rendered workflow descriptions.
	WrapWidth int `toml:"wrap_width"`
}

// Duration is a wrapper for time.Duration that supports TOML marshaling.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return d.Duration.String()
}

// Default returns the built-in configuration with paths unresolved.
func Default() *Config {
	var cfg Config
	if _, err := toml.Decode(defaultsTOML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return &cfg
}

// Load builds the configuration for a project root. A missing config file
// or .env file is not an error.
func Load(root string) (*Config, error) {
	return LoadFile(root, filepath.Join(root, ".calcflow", "config.toml"))
}

// LoadFile is Load with an explicit config file. Relative paths inside it
// still resolve against root.
func LoadFile(root, path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	// godotenv.Load never overrides variables already in the environment.
	envPath := filepath.Join(root, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.resolvePaths(root)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv merges environment overrides into cfg.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvStore); ok && v != "" {
		c.Store.Provider = v
	}
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		c.Store.URL = v
		if _, set := lookup(EnvStore); !set {
			c.Store.Provider = "postgres"
		}
	}
	if v, ok := lookup(EnvWorkDir); ok && v != "" {
		c.Engine.WorkDir = v
	}
	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRetries, err)
		}
		c.Engine.MaxRetries = n
	}
	return nil
}

// resolvePaths makes relative paths absolute against root.
func (c *Config) resolvePaths(root string) {
	c.Root = root
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Store.Path = abs(c.Store.Path)
	c.Engine.WorkDir = abs(c.Engine.WorkDir)
	c.Scheduler.ScriptTemplate = abs(c.Scheduler.ScriptTemplate)
	for i, d := range c.Plans.Dirs {
		c.Plans.Dirs[i] = abs(d)
	}
}

// Validate checks values that would otherwise fail deep inside the engine.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Provider {
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file provider"))
		}
	case "postgres":
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for the postgres provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.provider must be file or postgres, got %q", c.Store.Provider))
	}
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("engine.max_retries must be >= 0, got %d", c.Engine.MaxRetries))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be >= 1, got %d", c.Engine.Workers))
	}
	if _, err := c.Engine.Pairs(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Generator.Command) == 0 || c.Generator.Command[0] == "" {
		errs = append(errs, errors.New("generator.command is required"))
	}
	if len(c.Scheduler.Command) == 0 || c.Scheduler.Command[0] == "" {
		errs = append(errs, errors.New("scheduler.command is required"))
	}
	if !strings.HasPrefix(c.Generator.InputExt, ".") {
		errs = append(errs, fmt.Errorf("generator.input_ext must start with '.', got %q", c.Generator.InputExt))
	}
	switch c.UI.Theme {
	case "", "auto", "dark", "light":
	default:
		errs = append(errs, fmt.Errorf("ui.theme must be auto, dark or light, got %q", c.UI.Theme))
	}
	if c.UI.WrapWidth < 0 {
		errs = append(errs, fmt.Errorf("ui.wrap_width must be >= 0, got %d", c.UI.WrapWidth))
	}
	return errors.Join(errs...)
}

// Pairs returns the configured parallel pairs.
func (e EngineConfig) Pairs() ([][2]string, error) {
	out := make([][2]string, 0, len(e.ParallelPairs))
	for _, p := range e.ParallelPairs {
		if len(p) != 2 || p[0] == "" || p[1] == "" {
			return nil, fmt.Errorf("engine.parallel_pairs: each entry needs two kinds, got %v", p)
		}
		out = append(out, [2]string{p[0], p[1]})
	}
	return out, nil
}

// EnvList renders an env map as KEY=VALUE entries.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Write saves cfg as TOML. Used by 'calcflow init' to seed a project.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
