// Package workspace locates the calcflow project root.
//
// A project is any directory containing .calcflow/. Commands run from
// anywhere below it (including inside calculation working directories,
// which is where batch-job epilogues start) find the same root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound indicates no project was found.
var ErrNotFound = errors.New("not in a calcflow project (run 'calcflow init')")

// Markers used to detect a project root.
const (
	// StateDir holds configuration, plans, locks and the file store.
	StateDir = ".calcflow"

	// PrimaryMarker is the config file that identifies a project.
	PrimaryMarker = ".calcflow/config.toml"
)

// EnvRoot overrides discovery, for job scripts whose working directory is
// outside the project tree.
const EnvRoot = "CALCFLOW_ROOT"

// Find locates the project root by walking up from startDir. A directory
// with .calcflow/config.toml wins immediately; otherwise the innermost
// directory with a bare .calcflow/ is returned. Returns "" when neither
// exists. Does not resolve symlinks to stay consistent with os.Getwd().
func Find(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	var bare string
	current := absDir
	for {
		if _, err := os.Stat(filepath.Join(current, PrimaryMarker)); err == nil {
			return current, nil
		}
		if bare == "" {
			if info, err := os.Stat(filepath.Join(current, StateDir)); err == nil && info.IsDir() {
				bare = current
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return bare, nil
		}
		current = parent
	}
}

// FindOrError is like Find but returns ErrNotFound when nothing is found.
func FindOrError(startDir string) (string, error) {
	root, err := Find(startDir)
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", ErrNotFound
	}
	return root, nil
}

// FindFromCwdOrError locates the root from CALCFLOW_ROOT if set and valid,
// else from the current working directory.
func FindFromCwdOrError() (string, error) {
	if root := os.Getenv(EnvRoot); root != "" {
		if ok, _ := IsWorkspace(root); ok {
			return filepath.Abs(root)
		}
		return "", fmt.Errorf("%s=%s: %w", EnvRoot, root, ErrNotFound)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return FindOrError(cwd)
}

// IsWorkspace checks if dir is a project root.
func IsWorkspace(dir string) (bool, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(filepath.Join(absDir, StateDir))
	if err == nil && info.IsDir() {
		return true, nil
	}
	return false, nil
}

// Paths are the well-known locations under a project root.
type Paths struct {
	Root   string
	State  string // <root>/.calcflow
	Config string // <root>/.calcflow/config.toml
	Env    string // <root>/.env
	Plans  string // <root>/.calcflow/plans
	Locks  string // <root>/.calcflow/locks
	Store  string // <root>/.calcflow/calcflow.json
	Logs   string // <root>/logs
}

// PathsFor returns the layout for a root.
func PathsFor(root string) Paths {
	state := filepath.Join(root, StateDir)
	return Paths{
		Root:   root,
		State:  state,
		Config: filepath.Join(root, PrimaryMarker),
		Env:    filepath.Join(root, ".env"),
		Plans:  filepath.Join(state, "plans"),
		Locks:  filepath.Join(state, "locks"),
		Store:  filepath.Join(state, "calcflow.json"),
		Logs:   filepath.Join(root, "logs"),
	}
}
