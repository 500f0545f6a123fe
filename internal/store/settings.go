package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calcflow/calcflow/internal/calctype"
)

// Settings is the structured document stored with each calculation.
type Settings struct {
	WorkflowID string `json:"workflow_id"`

	// Step is the 1-based plan position of the calculation.
	Step int `json:"step"`

	// ParentID is the calculation whose output seeded this one (empty for the first step).
	ParentID string `json:"parent_id,omitempty"`

	// SubstitutedFrom names the failed optional dependency that ParentID stands in for.
	SubstitutedFrom string `json:"substituted_from,omitempty"`

	RetryCount  int        `json:"retry_count"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// SubmitError holds the last scheduler rejection, cleared on success.
	SubmitError string `json:"submit_error,omitempty"`

	Kind KindSettings `json:"kind,omitempty"`

	// ExtraArgs are passed through to the input generator.
	ExtraArgs []string `json:"extra_args,omitempty"`
}

// Validate checks the settings against the calculation type they belong to.
func (s Settings) Validate(token string) error {
	if strings.TrimSpace(s.WorkflowID) == "" {
		return errors.New("settings: workflow id is required")
	}
	if s.Step < 1 {
		return fmt.Errorf("settings: step must be >= 1, got %d", s.Step)
	}
	if s.RetryCount < 0 {
		return fmt.Errorf("settings: retry count must be >= 0, got %d", s.RetryCount)
	}
	return s.Kind.Validate(calctype.BaseOf(token))
}

// MarkProcessed sets the processed flag and its timestamp.
func (s *Settings) MarkProcessed(at time.Time) {
	s.Processed = true
	s.ProcessedAt = &at
}

// KindSettings holds at most one kind-specific sub-record.
type KindSettings struct {
	Opt             *OptSettings             `json:"opt,omitempty" toml:"opt,omitempty" yaml:"opt,omitempty"`
	Band            *BandSettings            `json:"band,omitempty" toml:"band,omitempty" yaml:"band,omitempty"`
	DOSS            *DOSSSettings            `json:"doss,omitempty" toml:"doss,omitempty" yaml:"doss,omitempty"`
	Freq            *FreqSettings            `json:"freq,omitempty" toml:"freq,omitempty" yaml:"freq,omitempty"`
	Transport       *TransportSettings       `json:"transport,omitempty" toml:"transport,omitempty" yaml:"transport,omitempty"`
	ChargePotential *ChargePotentialSettings `json:"charge_potential,omitempty" toml:"charge_potential,omitempty" yaml:"charge_potential,omitempty"`
}

// OptSettings configures a geometry optimization.
type OptSettings struct {
	OptimizationType string `json:"optimization_type,omitempty" toml:"optimization_type" yaml:"optimization_type"`
	MaxCycles        int    `json:"max_cycles,omitempty" toml:"max_cycles" yaml:"max_cycles"`
}

// BandSettings configures a band structure path.
type BandSettings struct {
	Path   string `json:"path,omitempty" toml:"path" yaml:"path"`
	Points int    `json:"points,omitempty" toml:"points" yaml:"points"`
}

// DOSSSettings configures a density of states.
type DOSSSettings struct {
	Points      int  `json:"points,omitempty" toml:"points" yaml:"points"`
	Projections bool `json:"projections,omitempty" toml:"projections" yaml:"projections"`
}

// FreqSettings configures a frequency calculation.
type FreqSettings struct {
	Mode string `json:"mode,omitempty" toml:"mode" yaml:"mode"`
}

// TransportSettings configures a transport calculation.
type TransportSettings struct {
	Temperatures []float64 `json:"temperatures,omitempty" toml:"temperatures" yaml:"temperatures"`
}

// ChargePotentialSettings configures a charge density / potential map.
type ChargePotentialSettings struct {
	Grid int `json:"grid,omitempty" toml:"grid" yaml:"grid"`
}

// kinds returns the base kind of every sub-record that is set.
func (k KindSettings) kinds() []string {
	var set []string
	if k.Opt != nil {
		set = append(set, calctype.KindOpt)
	}
	if k.Band != nil {
		set = append(set, calctype.KindBand)
	}
	if k.DOSS != nil {
		set = append(set, calctype.KindDOSS)
	}
	if k.Freq != nil {
		set = append(set, calctype.KindFreq)
	}
	if k.Transport != nil {
		set = append(set, calctype.KindTransport)
	}
	if k.ChargePotential != nil {
		set = append(set, calctype.KindChargePotential)
	}
	return set
}

// IsZero reports whether no sub-record is set.
func (k KindSettings) IsZero() bool {
	return len(k.kinds()) == 0
}

// Validate rejects sub-records for a different kind than base.
func (k KindSettings) Validate(base string) error {
	set := k.kinds()
	switch {
	case len(set) == 0:
		return nil
	case len(set) > 1:
		return fmt.Errorf("settings: only one kind section allowed, got %s", strings.Join(set, ", "))
	case set[0] != base:
		return fmt.Errorf("settings: %s section does not apply to %s", set[0], base)
	}
	if k.Opt != nil && k.Opt.MaxCycles < 0 {
		return errors.New("settings: opt.max_cycles must be >= 0")
	}
	if k.Band != nil && k.Band.Points < 0 {
		return errors.New("settings: band.points must be >= 0")
	}
	if k.DOSS != nil && k.DOSS.Points < 0 {
		return errors.New("settings: doss.points must be >= 0")
	}
	if k.ChargePotential != nil && k.ChargePotential.Grid < 0 {
		return errors.New("settings: charge_potential.grid must be >= 0")
	}
	return nil
}

// Flags renders the sub-record as generator command-line flags.
func (k KindSettings) Flags() []string {
	var flags []string
	add := func(name, value string) {
		if value != "" && value != "0" {
			flags = append(flags, "--"+name+"="+value)
		}
	}
	switch {
	case k.Opt != nil:
		add("opt-type", k.Opt.OptimizationType)
		add("max-cycles", strconv.Itoa(k.Opt.MaxCycles))
	case k.Band != nil:
		add("band-path", k.Band.Path)
		add("band-points", strconv.Itoa(k.Band.Points))
	case k.DOSS != nil:
		add("doss-points", strconv.Itoa(k.DOSS.Points))
		if k.DOSS.Projections {
			flags = append(flags, "--doss-projections")
		}
	case k.Freq != nil:
		add("freq-mode", k.Freq.Mode)
	case k.Transport != nil:
		if len(k.Transport.Temperatures) > 0 {
			temps := make([]string, len(k.Transport.Temperatures))
			for i, t := range k.Transport.Temperatures {
				temps[i] = strconv.FormatFloat(t, 'f', -1, 64)
			}
			add("temperatures", strings.Join(temps, ","))
		}
	case k.ChargePotential != nil:
		add("grid", strconv.Itoa(k.ChargePotential.Grid))
	}
	return flags
}
