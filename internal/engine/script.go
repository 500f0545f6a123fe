package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// ScriptData is passed to the submission script template.
type ScriptData struct {
	Material   string
	CalcType   string
	Kind       string
	Step       int
	WorkflowID string
	WorkDir    string
	InputFile  string
	OutputFile string
	Stem       string

	// JobName is <material>_<calc type>, safe for scheduler job names.
	JobName string
}

var defaultScriptTemplate = template.Must(template.New("submit").Parse(`#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --output={{.WorkDir}}/{{.JobName}}.%j.log
#SBATCH --chdir={{.WorkDir}}

# workflow {{.WorkflowID}} step {{.Step}}: {{.CalcType}} for {{.Material}}
set -euo pipefail

run-calc {{.InputFile}} > {{.OutputFile}}

# Hand the finished job back to the workflow engine.
calcflow mark --status completed --material {{.Material}} {{.CalcType}} || true
`))

// LoadScriptTemplate parses a submission script template file.
func LoadScriptTemplate(path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script template: %w", err)
	}
	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=error").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing script template: %w", err)
	}
	return tmpl, nil
}

// renderScript writes the submission script for a calculation directory.
func (e *Engine) renderScript(path string, data ScriptData) error {
	var buf bytes.Buffer
	if err := e.opts.ScriptTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering submission script: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0755); err != nil { //nolint:gosec // G306: job scripts must be executable
		return fmt.Errorf("writing submission script: %w", err)
	}
	return nil
}
