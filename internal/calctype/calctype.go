// Package calctype parses calculation-type tokens such as "OPT", "OPT2",
// "OPT_2" or "CHARGE+POTENTIAL_2" into a base kind and an instance number.
//
// Parse is total: every input maps to a CalcType with Instance >= 1. All
// other packages compare tokens through this package rather than with
// ad hoc string matching.
package calctype

import (
	"strconv"
	"strings"
)

// Base kinds understood by the dependency rules.
const (
	KindOpt             = "OPT"
	KindSP              = "SP"
	KindFreq            = "FREQ"
	KindBand            = "BAND"
	KindDOSS            = "DOSS"
	KindTransport       = "TRANSPORT"
	KindChargePotential = "CHARGE+POTENTIAL"
)

// optionalKinds fail without halting the rest of the pipeline.
var optionalKinds = map[string]bool{
	KindBand:            true,
	KindDOSS:            true,
	KindFreq:            true,
	KindTransport:       true,
	KindChargePotential: true,
}

// CalcType is a parsed calculation-type token.
type CalcType struct {
	Base     string
	Instance int
}

// Parse splits a token into its base kind and instance number.
// Tokens without a positive numeric suffix parse as (token, 1).
func Parse(token string) CalcType {
	token = strings.TrimSpace(token)

	end := len(token)
	for end > 0 && token[end-1] >= '0' && token[end-1] <= '9' {
		end--
	}
	if end == len(token) {
		return CalcType{Base: token, Instance: 1}
	}

	n, err := strconv.Atoi(token[end:])
	if err != nil || n < 1 {
		return CalcType{Base: token, Instance: 1}
	}

	base := strings.TrimSuffix(token[:end], "_")
	if base == "" {
		return CalcType{Base: token, Instance: 1}
	}
	return CalcType{Base: base, Instance: n}
}

// String returns the canonical spelling of the token.
func (c CalcType) String() string {
	return Format(c)
}

// IsOptional reports whether the kind is optional.
func (c CalcType) IsOptional() bool {
	return IsOptional(c.Base)
}

// Format renders a CalcType canonically. Instance 1 is written as the bare
// base unless the base would reparse with a different instance. Bases that
// contain '+' or '_' or end in a digit take an underscore separator.
func Format(c CalcType) string {
	if c.Instance <= 1 {
		if Parse(c.Base).Base == c.Base {
			return c.Base
		}
		return c.Base + "_1"
	}
	if strings.ContainsAny(c.Base, "+_") || endsInDigit(c.Base) {
		return c.Base + "_" + strconv.Itoa(c.Instance)
	}
	return c.Base + strconv.Itoa(c.Instance)
}

func endsInDigit(s string) bool {
	return s != "" && s[len(s)-1] >= '0' && s[len(s)-1] <= '9'
}

// Canonical normalizes a token so equivalent spellings compare equal.
func Canonical(token string) string {
	return Format(Parse(token))
}

// Equivalent reports whether two tokens name the same calculation type.
func Equivalent(a, b string) bool {
	return Canonical(a) == Canonical(b)
}

// BaseOf returns the base kind of a token.
func BaseOf(token string) string {
	return Parse(token).Base
}

// IsOptional reports whether failures of the given base kind are non-blocking.
func IsOptional(kind string) bool {
	return optionalKinds[kind]
}

// IsRequired is the complement of IsOptional.
func IsRequired(kind string) bool {
	return !IsOptional(kind)
}

// AdvancesStructure reports whether a kind produces a reusable intermediate
// result (wavefunction, relaxed geometry) that later steps build on.
func AdvancesStructure(kind string) bool {
	return kind == KindOpt || kind == KindSP
}

// IsPropertyKind reports whether a kind only reads an existing intermediate
// result (band structure, density of states, transport, charge/potential).
func IsPropertyKind(kind string) bool {
	switch kind {
	case KindBand, KindDOSS, KindTransport, KindChargePotential:
		return true
	}
	return false
}
