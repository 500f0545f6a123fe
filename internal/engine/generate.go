package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calcflow/calcflow/internal/calclog"
	"github.com/calcflow/calcflow/internal/calctype"
	"github.com/calcflow/calcflow/internal/generator"
	"github.com/calcflow/calcflow/internal/plan"
	"github.com/calcflow/calcflow/internal/store"
	"github.com/calcflow/calcflow/internal/util"
)

// genRequest is everything one generation needs.
type genRequest struct {
	material *store.Material
	plan     *plan.Plan
	target   string

	// source is nil for a step generated from the material's structure.
	source          *store.Calculation
	substitutedFrom string
}

// Generate creates the calculation for targetToken from a completed
// source calculation and returns its id. The record is written only after
// the generated input is in place; on failure nothing is written to the store.
func (e *Engine) Generate(ctx context.Context, sourceCalcID, targetToken string) (string, error) {
	src, err := e.store.GetCalculation(ctx, sourceCalcID)
	if err != nil {
		return "", err
	}
	var id string
	err = e.withMaterial(ctx, src.MaterialID, "generate "+targetToken, func(ctx context.Context) error {
		if src.Status != store.StatusCompleted {
			return fmt.Errorf("source %s is %s: %w", sourceCalcID, src.Status, ErrNotFinished)
		}
		mat, err := e.store.GetMaterial(ctx, src.MaterialID)
		if err != nil {
			return err
		}
		p, err := e.plans.Load(src.Settings.WorkflowID)
		if err != nil {
			return fmt.Errorf("loading plan: %w", err)
		}
		id, err = e.generate(ctx, genRequest{material: mat, plan: p, target: targetToken, source: src})
		return err
	})
	return id, err
}

// GenerateInitial creates the calculation for targetToken directly from
// the material's source structure file.
func (e *Engine) GenerateInitial(ctx context.Context, materialID, workflowID, targetToken string) (string, error) {
	var id string
	err := e.withMaterial(ctx, materialID, "generate "+targetToken, func(ctx context.Context) error {
		mat, err := e.store.GetMaterial(ctx, materialID)
		if err != nil {
			return err
		}
		if workflowID == "" {
			workflowID = mat.WorkflowID
		}
		if workflowID == "" {
			return fmt.Errorf("%s: %w", materialID, ErrNoWorkflow)
		}
		p, err := e.plans.Load(workflowID)
		if err != nil {
			return fmt.Errorf("loading plan: %w", err)
		}
		id, err = e.generate(ctx, genRequest{material: mat, plan: p, target: targetToken})
		return err
	})
	return id, err
}

// generate runs one generation. Callers hold the material lock.
func (e *Engine) generate(ctx context.Context, req genRequest) (string, error) {
	step, ok := req.plan.Step(req.target)
	if !ok {
		return "", fmt.Errorf("%s is not a step of plan %s", req.target, req.plan.ID)
	}
	token := calctype.Canonical(step.Token)
	kind := calctype.BaseOf(token)
	materialID := req.material.ID

	sourceFile := req.material.SourceFile
	if req.source != nil {
		sourceFile = req.source.OutputFile
	}
	if sourceFile == "" {
		return "", fmt.Errorf("%s/%s: no source file: %w", materialID, token, ErrMissingArtifact)
	}
	if _, err := os.Stat(sourceFile); err != nil {
		return "", fmt.Errorf("%s/%s: source %s: %w", materialID, token, sourceFile, ErrMissingArtifact)
	}

	area, err := e.newWorkArea()
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(area); err != nil {
			e.log.Warn("removing work area", "path", area, "err", err)
		}
	}()

	staged := map[string]bool{}
	stagedSource := filepath.Join(area, filepath.Base(sourceFile))
	if err := util.CopyFile(sourceFile, stagedSource); err != nil {
		return "", fmt.Errorf("staging source: %w", err)
	}
	staged[filepath.Base(sourceFile)] = true

	intermediates, err := e.stageIntermediates(req.source, area)
	if err != nil {
		return "", err
	}
	for _, name := range intermediates {
		staged[name] = true
	}
	if len(intermediates) == 0 && e.needsIntermediate(kind) {
		from := "source structure"
		if req.source != nil {
			from = req.source.WorkDir
		}
		return "", fmt.Errorf("%s/%s: no intermediate files in %s: %w", materialID, token, from, ErrMissingArtifact)
	}

	args := append(step.Settings.Flags(), step.Args...)
	e.log.Debug("running generator", "material", materialID, "target", token, "source", sourceFile, "area", area)
	if err := e.gen.Generate(ctx, generator.Request{
		MaterialID: materialID,
		Source:     stagedSource,
		Kind:       kind,
		Token:      token,
		OutDir:     area,
		Args:       args,
	}); err != nil {
		return "", fmt.Errorf("%s/%s: %w: %w", materialID, token, ErrGenerationFailed, err)
	}

	artifact, err := selectArtifact(area, e.opts.InputExt, token, sourceFile, staged)
	if err != nil {
		return "", fmt.Errorf("%s/%s: %w", materialID, token, err)
	}

	dest, err := e.calcDir(materialID, token)
	if err != nil {
		return "", err
	}
	created := false
	defer func() {
		if !created {
			_ = os.RemoveAll(dest)
		}
	}()

	inputFile := filepath.Join(dest, filepath.Base(artifact))
	if err := util.MoveFile(artifact, inputFile); err != nil {
		return "", fmt.Errorf("moving input into place: %w", err)
	}
	for _, name := range intermediates {
		if err := util.MoveFile(filepath.Join(area, name), filepath.Join(dest, name)); err != nil {
			return "", fmt.Errorf("moving %s into place: %w", name, err)
		}
	}
	stem := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	outputFile := filepath.Join(dest, stem+e.opts.OutputExt)

	settings := store.Settings{
		WorkflowID: req.plan.ID,
		Step:       req.plan.Index(token) + 1,
		Kind:       step.Settings,
		ExtraArgs:  step.Args,
	}
	if req.source != nil {
		settings.ParentID = req.source.ID
		settings.SubstitutedFrom = req.substitutedFrom
	}

	if err := e.renderScript(filepath.Join(dest, e.opts.ScriptName), ScriptData{
		Material:   materialID,
		CalcType:   token,
		Kind:       kind,
		Step:       settings.Step,
		WorkflowID: settings.WorkflowID,
		WorkDir:    dest,
		InputFile:  inputFile,
		OutputFile: outputFile,
		Stem:       stem,
		JobName:    jobName(materialID, token),
	}); err != nil {
		return "", err
	}

	id, err := e.store.CreateCalculation(ctx, store.NewCalculation{
		MaterialID: materialID,
		CalcType:   token,
		InputFile:  inputFile,
		OutputFile: outputFile,
		WorkDir:    dest,
		Settings:   settings,
	})
	if err != nil {
		return "", fmt.Errorf("recording %s/%s: %w", materialID, token, err)
	}
	created = true

	from := "source structure"
	if req.source != nil {
		from = "from " + req.source.CalcType
		if req.substitutedFrom != "" {
			from += " in place of " + req.substitutedFrom
		}
	}
	e.event(calclog.EventGenerated, materialID, token, from)
	e.log.Info("generated calculation", "material", materialID, "calc_type", token, "id", id)
	return id, nil
}

// newWorkArea creates an isolated staging directory under <work_root>/.gen.
// The timestamp orders areas; the random suffix keeps concurrent
// generations apart.
func (e *Engine) newWorkArea() (string, error) {
	name := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405.000000000"), uuid.NewString()[:8])
	area := filepath.Join(e.opts.WorkRoot, ".gen", name)
	if err := os.MkdirAll(area, 0755); err != nil {
		return "", fmt.Errorf("creating work area: %w", err)
	}
	return area, nil
}

// calcDir picks <work_root>/<material>/<token>/, adding a numeric suffix
// when an earlier attempt's directory is still there.
func (e *Engine) calcDir(materialID, token string) (string, error) {
	base := filepath.Join(e.opts.WorkRoot, materialID, token)
	dest := base
	for i := 2; ; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		} else if err != nil {
			return "", fmt.Errorf("checking %s: %w", dest, err)
		}
		dest = fmt.Sprintf("%s.%d", base, i)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("creating calculation directory: %w", err)
	}
	return dest, nil
}

// stageIntermediates copies files matching the intermediate globs from the
// source calculation's directory. Returns the staged file names.
func (e *Engine) stageIntermediates(src *store.Calculation, area string) ([]string, error) {
	if src == nil || src.WorkDir == "" {
		return nil, nil
	}
	seen := map[string]bool{}
	var names []string
	for _, glob := range e.opts.IntermediateGlobs {
		matches, err := filepath.Glob(filepath.Join(src.WorkDir, glob))
		if err != nil {
			return nil, fmt.Errorf("bad intermediate pattern %q: %w", glob, err)
		}
		for _, m := range matches {
			name := filepath.Base(m)
			if seen[name] {
				continue
			}
			if info, err := os.Stat(m); err != nil || info.IsDir() {
				continue
			}
			if err := util.CopyFile(m, filepath.Join(area, name)); err != nil {
				return nil, fmt.Errorf("staging %s: %w", name, err)
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (e *Engine) needsIntermediate(kind string) bool {
	for _, k := range e.opts.NeedsIntermediate {
		if k == kind {
			return true
		}
	}
	return false
}

// selectArtifact chooses the generated input among new files with ext.
// Names carrying the target token beat names carrying only its kind, which
// beat other new files; a file echoing the source's stem ranks last. Ties go
// to the newest file, then the lexically first name.
func selectArtifact(area, ext, token, sourceFile string, staged map[string]bool) (string, error) {
	entries, err := os.ReadDir(area)
	if err != nil {
		return "", fmt.Errorf("reading work area: %w", err)
	}

	sourceStem := strings.ToUpper(strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile)))
	upperToken := strings.ToUpper(token)
	upperKind := strings.ToUpper(calctype.BaseOf(token))

	type candidate struct {
		path  string
		name  string
		score int
		mod   time.Time
	}
	var cands []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || staged[name] || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stem := strings.ToUpper(strings.TrimSuffix(name, filepath.Ext(name)))
		score := 1
		switch {
		case stem == sourceStem:
			score = 0
		case strings.Contains(stem, upperToken):
			score = 3
		case strings.Contains(stem, upperKind):
			score = 2
		}
		cands = append(cands, candidate{path: filepath.Join(area, name), name: name, score: score, mod: info.ModTime()})
	}
	if len(cands) == 0 {
		return "", fmt.Errorf("generator produced no %s file: %w", ext, ErrMissingArtifact)
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.mod.Equal(b.mod) {
			return a.mod.After(b.mod)
		}
		return a.name < b.name
	})
	return cands[0].path, nil
}

func jobName(materialID, token string) string {
	r := strings.NewReplacer("+", "", "/", "_", " ", "_")
	return r.Replace(materialID + "_" + token)
}

// isDuplicate reports whether err means the step already exists.
func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}
