package plan

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calcflow/calcflow/internal/store"
)

func seq(id string, tokens ...string) *Plan {
	p := &Plan{ID: id, Sequence: tokens}
	p.normalize()
	return p
}

func TestIndex(t *testing.T) {
	p := seq("x", "OPT", "OPT2", "SP", "CHARGE+POTENTIAL_2")

	tests := map[string]int{
		"OPT":                0,
		"OPT2":               1,
		"OPT_2":              1,
		" SP ":               2,
		"CHARGE+POTENTIAL2":  3,
		"CHARGE+POTENTIAL_2": 3,
		"OPT3":               -1,
		"BAND":               -1,
	}
	for tok, want := range tests {
		if got := p.Index(tok); got != want {
			t.Errorf("Index(%q) = %d, want %d", tok, got, want)
		}
	}
}

func TestDependencyOf(t *testing.T) {
	tests := []struct {
		name  string
		plan  []string
		token string
		want  string
		ok    bool
	}{
		{"first step", []string{"OPT", "SP"}, "OPT", "", false},
		{"not in plan", []string{"OPT", "SP"}, "BAND", "", false},
		{"sp after opt", []string{"OPT", "SP"}, "SP", "OPT", true},
		{"sp skips freq", []string{"OPT", "FREQ", "SP"}, "SP", "OPT", true},
		{"sp without opt falls back", []string{"BAND", "SP"}, "SP", "BAND", true},
		{"band after sp", []string{"OPT", "SP", "BAND"}, "BAND", "SP", true},
		{"doss skips band", []string{"OPT", "SP", "BAND", "DOSS"}, "DOSS", "SP", true},
		{"transport uses opt", []string{"OPT", "FREQ", "TRANSPORT"}, "TRANSPORT", "OPT", true},
		{"charge potential", []string{"OPT", "SP", "DOSS", "CHARGE+POTENTIAL"}, "CHARGE+POTENTIAL", "SP", true},
		{"freq skips sp", []string{"OPT", "SP", "FREQ"}, "FREQ", "OPT", true},
		{"transport2 on nearest structure", []string{"OPT", "SP", "OPT2", "TRANSPORT2"}, "TRANSPORT2", "OPT2", true},
		{"property skips property", []string{"SP", "OPT2", "BAND", "CHARGE+POTENTIAL_2"}, "CHARGE+POTENTIAL_2", "OPT2", true},
		{"opt2 on opt", []string{"OPT", "SP", "OPT2"}, "OPT2", "OPT", true},
		{"opt3 on opt2 not sp", []string{"OPT", "OPT2", "SP", "OPT3"}, "OPT3", "OPT2", true},
		{"opt3 without opt2 uses sp", []string{"OPT", "SP", "BAND", "OPT3"}, "OPT3", "SP", true},
		{"opt2 after opt2 later", []string{"SP", "OPT3", "OPT2"}, "OPT3", "SP", true},
		{"opt2 from source", []string{"FREQ", "OPT2"}, "OPT2", "", false},
		{"opt1 not first", []string{"SP", "OPT"}, "OPT", "SP", true},
		{"unknown kind adjacent", []string{"OPT", "SP", "BAND", "CUSTOM"}, "CUSTOM", "BAND", true},
		{"spelling variant", []string{"OPT", "OPT_2"}, "OPT2", "OPT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := seq("t", tt.plan...).DependencyOf(tt.token)
			if got != tt.want || ok != tt.ok {
				t.Errorf("DependencyOf(%q) = (%q, %v), want (%q, %v)", tt.token, got, ok, tt.want, tt.ok)
			}
		})
	}
}

// FREQ needs the nearest relaxed structure before it, never a later OPT.
func TestDependencyOf_FreqBetweenOpts(t *testing.T) {
	p := seq("d", "OPT", "OPT2", "SP", "OPT3", "FREQ", "OPT4")

	got := make(map[string]string)
	for _, tok := range p.Tokens() {
		dep, _ := p.DependencyOf(tok)
		got[tok] = dep
	}
	want := map[string]string{
		"OPT":  "",
		"OPT2": "OPT",
		"SP":   "OPT2",
		"OPT3": "OPT2",
		"FREQ": "OPT3",
		"OPT4": "OPT3",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestNextCandidates(t *testing.T) {
	pairs := DefaultParallelPairs()
	tests := []struct {
		name  string
		plan  []string
		token string
		pairs ParallelPairs
		want  []string
	}{
		{"opt to sp", []string{"OPT", "SP", "BAND", "DOSS"}, "OPT", pairs, []string{"SP"}},
		{"sp to pair", []string{"OPT", "SP", "BAND", "DOSS"}, "SP", pairs, []string{"BAND", "DOSS"}},
		{"reversed pair", []string{"OPT", "SP", "DOSS", "BAND"}, "SP", pairs, []string{"DOSS", "BAND"}},
		{"first of pair, end of plan", []string{"OPT", "SP", "BAND", "DOSS"}, "BAND", pairs, []string{"DOSS"}},
		{"first of pair, more steps", []string{"OPT", "SP", "BAND", "DOSS", "FREQ"}, "BAND", pairs, []string{"DOSS", "FREQ"}},
		{"second of pair", []string{"OPT", "SP", "BAND", "DOSS", "FREQ"}, "DOSS", pairs, []string{"FREQ"}},
		{"last step", []string{"OPT", "SP"}, "SP", pairs, nil},
		{"unknown token", []string{"OPT", "SP"}, "BAND", pairs, nil},
		{"no pairs configured", []string{"OPT", "SP", "BAND", "DOSS"}, "SP", nil, []string{"BAND"}},
		{"custom pair", []string{"OPT", "SP", "TRANSPORT", "CHARGE+POTENTIAL"}, "SP",
			ParallelPairs{{"TRANSPORT", "CHARGE+POTENTIAL"}}, []string{"TRANSPORT", "CHARGE+POTENTIAL"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := seq("t", tt.plan...).NextCandidates(tt.token, tt.pairs)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NextCandidates(%q) mismatch (-want +got):\n%s", tt.token, diff)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr string
	}{
		{"ok", Plan{ID: "a", Sequence: []string{"OPT", "SP"}}, ""},
		{"no id", Plan{Sequence: []string{"OPT"}}, "id is required"},
		{"no steps", Plan{ID: "a"}, "at least one step"},
		{"blank token", Plan{ID: "a", Sequence: []string{"OPT", " "}}, "no token"},
		{"duplicate spelling", Plan{ID: "a", Sequence: []string{"OPT2", "SP", "OPT_2"}}, "duplicates step 1"},
		{"wrong override", Plan{ID: "a", Steps: []Step{{Token: "SP", Settings: store.KindSettings{Band: &store.BandSettings{}}}}}, "does not apply"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.plan
			p.normalize()
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
