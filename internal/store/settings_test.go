package store

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		settings Settings
		wantErr  string
	}{
		{"minimal", "OPT", Settings{WorkflowID: "w", Step: 1}, ""},
		{"missing workflow", "OPT", Settings{Step: 1}, "workflow id"},
		{"zero step", "SP", Settings{WorkflowID: "w"}, "step"},
		{"negative retries", "SP", Settings{WorkflowID: "w", Step: 2, RetryCount: -1}, "retry count"},
		{"matching kind", "BAND2", Settings{WorkflowID: "w", Step: 3, Kind: KindSettings{Band: &BandSettings{Path: "auto"}}}, ""},
		{"mismatched kind", "DOSS", Settings{WorkflowID: "w", Step: 3, Kind: KindSettings{Band: &BandSettings{}}}, "does not apply"},
		{"two kinds", "OPT", Settings{WorkflowID: "w", Step: 1, Kind: KindSettings{Opt: &OptSettings{}, Freq: &FreqSettings{}}}, "only one"},
		{"compound kind", "CHARGE+POTENTIAL_2", Settings{WorkflowID: "w", Step: 5, Kind: KindSettings{ChargePotential: &ChargePotentialSettings{Grid: 100}}}, ""},
		{"negative points", "BAND", Settings{WorkflowID: "w", Step: 3, Kind: KindSettings{Band: &BandSettings{Points: -1}}}, "band.points"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate(tt.token)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestKindSettingsFlags(t *testing.T) {
	tests := []struct {
		name string
		kind KindSettings
		want []string
	}{
		{"none", KindSettings{}, nil},
		{"opt", KindSettings{Opt: &OptSettings{OptimizationType: "FULLOPTG", MaxCycles: 800}}, []string{"--opt-type=FULLOPTG", "--max-cycles=800"}},
		{"doss", KindSettings{DOSS: &DOSSSettings{Points: 500, Projections: true}}, []string{"--doss-points=500", "--doss-projections"}},
		{"transport", KindSettings{Transport: &TransportSettings{Temperatures: []float64{300, 350.5}}}, []string{"--temperatures=300,350.5"}},
		{"band zero points", KindSettings{Band: &BandSettings{Path: "auto"}}, []string{"--band-path=auto"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.Flags(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Flags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSettingsJSONShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Settings{WorkflowID: "full", Step: 2, ParentID: "abc", RetryCount: 1}
	s.MarkProcessed(at)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"workflow_id":"full"`, `"step":2`, `"parent_id":"abc"`, `"retry_count":1`, `"processed":true`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("JSON %s missing %s", data, key)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, st := range AllStatuses() {
		got, err := ParseStatus(" " + strings.ToUpper(string(st)) + " ")
		if err != nil || got != st {
			t.Errorf("ParseStatus(%q) = %q, %v", st, got, err)
		}
	}
	if _, err := ParseStatus("cancelled"); err == nil {
		t.Error("expected error for unknown status")
	}
	if StatusFailed.IsActive() {
		t.Error("failed must not be active")
	}
	if !StatusCompleted.IsActive() || !StatusCompleted.IsTerminal() {
		t.Error("completed is active and terminal")
	}
}
