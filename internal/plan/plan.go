// Package plan loads workflow plans and resolves step dependencies.
//
// A plan is an ordered list of calculation-type tokens. The dependency of a
// step is derived from what intermediate result it needs, not from list
// adjacency: an SP needs a relaxed structure from an OPT, a band structure
// needs a wavefunction from an SP or OPT, and so on.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/calcflow/calcflow/internal/calctype"
	"github.com/calcflow/calcflow/internal/store"
)

// ErrNotFound is returned when no plan file exists for a workflow id.
var ErrNotFound = errors.New("workflow plan not found")

// Plan is a read-only ordered sequence of calculation steps.
type Plan struct {
	ID          string `json:"id" toml:"id" yaml:"id"`
	Description string `json:"description,omitempty" toml:"description" yaml:"description"`

	// Sequence is the short form: bare tokens with no overrides.
	Sequence []string `json:"sequence,omitempty" toml:"sequence" yaml:"sequence"`

	Steps []Step `json:"steps,omitempty" toml:"steps" yaml:"steps"`

	// Source is the file the plan was read from ("builtin:<name>" for embedded plans).
	Source string `json:"-" toml:"-" yaml:"-"`
}

// Step is one plan entry with optional overrides.
type Step struct {
	Token string `json:"token" toml:"token" yaml:"token"`

	// Args are appended to the generator invocation.
	Args []string `json:"args,omitempty" toml:"args" yaml:"args"`

	Settings store.KindSettings `json:"settings,omitempty" toml:"settings" yaml:"settings"`
}

// normalize folds Sequence into Steps and trims tokens.
func (p *Plan) normalize() {
	p.ID = strings.TrimSpace(p.ID)
	if len(p.Steps) == 0 {
		for _, tok := range p.Sequence {
			p.Steps = append(p.Steps, Step{Token: tok})
		}
	}
	p.Sequence = nil
	for i := range p.Steps {
		p.Steps[i].Token = strings.TrimSpace(p.Steps[i].Token)
	}
}

// Validate checks that the plan is usable.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return errors.New("plan id is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s: at least one step is required", p.ID)
	}
	seen := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if s.Token == "" {
			return fmt.Errorf("plan %s: step %d has no token", p.ID, i+1)
		}
		canon := calctype.Canonical(s.Token)
		if j, dup := seen[canon]; dup {
			return fmt.Errorf("plan %s: step %d (%s) duplicates step %d", p.ID, i+1, s.Token, j+1)
		}
		seen[canon] = i
		if err := s.Settings.Validate(calctype.BaseOf(s.Token)); err != nil {
			return fmt.Errorf("plan %s: step %d (%s): %w", p.ID, i+1, s.Token, err)
		}
	}
	return nil
}

// Tokens returns the step tokens in order.
func (p *Plan) Tokens() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Token
	}
	return out
}

// Index returns the position of token in the plan, or -1.
// An exact match wins; otherwise an equivalent spelling ("OPT_2" for "OPT2") matches.
func (p *Plan) Index(token string) int {
	token = strings.TrimSpace(token)
	for i, s := range p.Steps {
		if s.Token == token {
			return i
		}
	}
	canon := calctype.Canonical(token)
	for i, s := range p.Steps {
		if calctype.Canonical(s.Token) == canon {
			return i
		}
	}
	return -1
}

// Step returns the step for token.
func (p *Plan) Step(token string) (Step, bool) {
	i := p.Index(token)
	if i < 0 {
		return Step{}, false
	}
	return p.Steps[i], true
}

// DependencyOf returns the token the given step needs to have completed.
// The second result is false for the first step, for tokens not in the
// plan, and for a later OPT with nothing structural before it.
func (p *Plan) DependencyOf(token string) (string, bool) {
	i := p.Index(token)
	if i <= 0 {
		return "", false
	}
	ct := calctype.Parse(p.Steps[i].Token)
	prev := p.Steps[i-1].Token

	switch {
	case ct.Base == calctype.KindSP || ct.Base == calctype.KindFreq:
		if dep, ok := p.nearestBefore(i, calctype.KindOpt); ok {
			return dep, true
		}
		return prev, true

	case calctype.IsPropertyKind(ct.Base):
		if dep, ok := p.nearestStructural(i); ok {
			return dep, true
		}
		return prev, true

	case ct.Base == calctype.KindOpt:
		if ct.Instance == 1 {
			return prev, true
		}
		want := calctype.Format(calctype.CalcType{Base: calctype.KindOpt, Instance: ct.Instance - 1})
		if j := p.Index(want); j >= 0 && j < i {
			return p.Steps[j].Token, true
		}
		return p.nearestStructural(i)

	default:
		return prev, true
	}
}

// nearestBefore walks backwards from position i for a step of one of kinds.
func (p *Plan) nearestBefore(i int, kinds ...string) (string, bool) {
	for j := i - 1; j >= 0; j-- {
		base := calctype.BaseOf(p.Steps[j].Token)
		for _, k := range kinds {
			if base == k {
				return p.Steps[j].Token, true
			}
		}
	}
	return "", false
}

// nearestStructural walks backwards from position i for the closest step
// whose output later steps build on.
func (p *Plan) nearestStructural(i int) (string, bool) {
	for j := i - 1; j >= 0; j-- {
		if calctype.AdvancesStructure(calctype.BaseOf(p.Steps[j].Token)) {
			return p.Steps[j].Token, true
		}
	}
	return "", false
}

// ParallelPairs lists pairs of base kinds that may be generated together
// when they sit next to each other in a plan.
type ParallelPairs [][2]string

// DefaultParallelPairs is band structure alongside density of states.
func DefaultParallelPairs() ParallelPairs {
	return ParallelPairs{{calctype.KindBand, calctype.KindDOSS}}
}

// Pairs reports whether two tokens form a configured pair, in either order.
func (pp ParallelPairs) Pairs(a, b string) bool {
	ba, bb := calctype.BaseOf(a), calctype.BaseOf(b)
	for _, pair := range pp {
		if (ba == pair[0] && bb == pair[1]) || (ba == pair[1] && bb == pair[0]) {
			return true
		}
	}
	return false
}

// NextCandidates returns the steps to consider once token has finished.
//
// Normally that is the following step. When the following step and the
// one after it form a parallel pair, both are returned. When token is
// itself the first half of a pair, its partner and the step after the
// pair are returned; the partner was usually created alongside token and
// is then skipped by the caller's existence check.
func (p *Plan) NextCandidates(token string, pairs ParallelPairs) []string {
	i := p.Index(token)
	if i < 0 || i+1 >= len(p.Steps) {
		return nil
	}
	next := p.Steps[i+1].Token

	if pairs.Pairs(p.Steps[i].Token, next) {
		out := []string{next}
		if i+2 < len(p.Steps) {
			out = append(out, p.Steps[i+2].Token)
		}
		return out
	}

	out := []string{next}
	if i+2 < len(p.Steps) && pairs.Pairs(next, p.Steps[i+2].Token) {
		out = append(out, p.Steps[i+2].Token)
	}
	return out
}
