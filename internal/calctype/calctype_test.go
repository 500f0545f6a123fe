package calctype

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		token        string
		wantBase     string
		wantInstance int
	}{
		{"OPT", "OPT", 1},
		{"OPT2", "OPT", 2},
		{"OPT_2", "OPT", 2},
		{"OPT10", "OPT", 10},
		{"SP", "SP", 1},
		{"CHARGE+POTENTIAL", "CHARGE+POTENTIAL", 1},
		{"CHARGE+POTENTIAL_2", "CHARGE+POTENTIAL", 2},
		{"CHARGE+POTENTIAL3", "CHARGE+POTENTIAL", 3},
		{"  BAND  ", "BAND", 1},
		{"OPT0", "OPT0", 1},
		{"OPT_0", "OPT_0", 1},
		{"42", "42", 1},
		{"_3", "_3", 1},
		{"", "", 1},
		{"OPT99999999999999999999999", "OPT99999999999999999999999", 1},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got := Parse(tt.token)
			if got.Base != tt.wantBase {
				t.Errorf("Parse(%q).Base = %q, want %q", tt.token, got.Base, tt.wantBase)
			}
			if got.Instance != tt.wantInstance {
				t.Errorf("Parse(%q).Instance = %d, want %d", tt.token, got.Instance, tt.wantInstance)
			}
			if got.Instance < 1 {
				t.Errorf("Parse(%q).Instance = %d, must be >= 1", tt.token, got.Instance)
			}
		})
	}
}

func TestCanonical_EquivalentSpellings(t *testing.T) {
	groups := [][]string{
		{"OPT2", "OPT_2", " OPT2"},
		{"OPT", "OPT1", "OPT_1"},
		{"CHARGE+POTENTIAL_2", "CHARGE+POTENTIAL2"},
		{"DOSS3", "DOSS_3"},
	}

	for _, group := range groups {
		want := Canonical(group[0])
		for _, tok := range group[1:] {
			if got := Canonical(tok); got != want {
				t.Errorf("Canonical(%q) = %q, want %q", tok, got, want)
			}
			if !Equivalent(group[0], tok) {
				t.Errorf("Equivalent(%q, %q) = false", group[0], tok)
			}
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   CalcType
		want string
	}{
		{CalcType{Base: "OPT", Instance: 1}, "OPT"},
		{CalcType{Base: "OPT", Instance: 3}, "OPT3"},
		{CalcType{Base: "CHARGE+POTENTIAL", Instance: 2}, "CHARGE+POTENTIAL_2"},
		{CalcType{Base: "MY_KIND", Instance: 2}, "MY_KIND_2"},
		{CalcType{Base: "X1", Instance: 2}, "X1_2"},
		{CalcType{Base: "X1", Instance: 1}, "X1_1"},
		{CalcType{Base: "OPT0", Instance: 1}, "OPT0"},
	}
	for _, tt := range tests {
		if got := Format(tt.in); got != tt.want {
			t.Errorf("Format(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	tokens := []string{"OPT", "OPT2", "OPT_7", "SP", "FREQ", "BAND2", "CHARGE+POTENTIAL_4", "weird", "X0", "X1_2", "X1_1", "OPT0_3", "42"}
	for _, tok := range tokens {
		canon := Canonical(tok)
		if again := Canonical(canon); again != canon {
			t.Errorf("Canonical not idempotent for %q: %q -> %q", tok, canon, again)
		}
		if Parse(canon) != Parse(tok) {
			t.Errorf("Parse(Canonical(%q)) = %+v, want %+v", tok, Parse(canon), Parse(tok))
		}
	}
}

func TestKindClassification(t *testing.T) {
	for _, k := range []string{KindBand, KindDOSS, KindFreq, KindTransport, KindChargePotential} {
		if !IsOptional(k) {
			t.Errorf("IsOptional(%q) = false, want true", k)
		}
	}
	for _, k := range []string{KindOpt, KindSP, "UNKNOWN"} {
		if !IsRequired(k) {
			t.Errorf("IsRequired(%q) = false, want true", k)
		}
	}
	if !Parse("DOSS2").IsOptional() {
		t.Error("DOSS2 should be optional")
	}
	if !AdvancesStructure(KindSP) || AdvancesStructure(KindFreq) {
		t.Error("AdvancesStructure misclassified SP/FREQ")
	}
	if !IsPropertyKind(KindChargePotential) || IsPropertyKind(KindFreq) {
		t.Error("IsPropertyKind misclassified CHARGE+POTENTIAL/FREQ")
	}
}
