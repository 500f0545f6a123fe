package engine

import (
	"github.com/calcflow/calcflow/internal/calctype"
	"github.com/calcflow/calcflow/internal/plan"
)

// Decision is the outcome of the dependency gate for one step.
type Decision struct {
	Ready bool

	// Dependency is the step's resolved dependency, empty if it has none.
	Dependency string

	// Source is the completed token to generate from. Empty with Ready
	// means generate from the material's source structure.
	Source string

	// Substituted is set when Source stands in for a failed optional Dependency.
	Substituted bool

	// Blocking names the dependency holding the step back.
	Blocking string

	// Critical means Blocking is a failed required step: the step can never run.
	Critical bool
}

// substituteKinds lists, per target kind, the base kinds whose output can
// stand in for a failed optional dependency, in order of preference.
func substituteKinds(target string) []string {
	switch base := calctype.BaseOf(target); {
	case base == calctype.KindSP || base == calctype.KindFreq:
		return []string{calctype.KindOpt}
	case calctype.IsPropertyKind(base):
		return []string{calctype.KindSP, calctype.KindOpt}
	default:
		return []string{calctype.KindOpt, calctype.KindSP}
	}
}

// Ready decides whether token can be generated now. completed lists tokens
// with a completed calculation; failed lists tokens that failed for good
// (retries exhausted, or generation failed).
func Ready(p *plan.Plan, token string, completed, failed []string) Decision {
	dep, ok := p.DependencyOf(token)
	if !ok {
		return Decision{Ready: true}
	}
	d := Decision{Dependency: dep}

	if match, ok := findEquivalent(completed, dep); ok {
		d.Ready = true
		d.Source = match
		return d
	}

	if _, ok := findEquivalent(failed, dep); ok {
		d.Blocking = dep
		if calctype.IsRequired(calctype.BaseOf(dep)) {
			d.Critical = true
			return d
		}
		if sub, ok := Substitute(token, completed); ok {
			d.Ready = true
			d.Source = sub
			d.Substituted = true
			d.Blocking = ""
		}
		return d
	}

	d.Blocking = dep
	return d
}

// Substitute picks the completed token that can replace a failed optional
// dependency of target: the highest completed instance of the first
// suitable kind.
func Substitute(target string, completed []string) (string, bool) {
	for _, kind := range substituteKinds(target) {
		best, bestInstance := "", 0
		for _, tok := range completed {
			ct := calctype.Parse(tok)
			if ct.Base == kind && ct.Instance > bestInstance {
				best, bestInstance = tok, ct.Instance
			}
		}
		if best != "" {
			return best, true
		}
	}
	return "", false
}

func findEquivalent(tokens []string, token string) (string, bool) {
	for _, t := range tokens {
		if t == token {
			return t, true
		}
	}
	for _, t := range tokens {
		if calctype.Equivalent(t, token) {
			return t, true
		}
	}
	return "", false
}
