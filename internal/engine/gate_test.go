package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReady(t *testing.T) {
	full := steps("full", "OPT", "SP", "BAND", "DOSS")
	walk := steps("walk", "OPT", "FREQ", "ELASTIC")
	props := steps("props", "TRANSPORT", "BAND")

	tests := []struct {
		name      string
		plan      string
		token     string
		completed []string
		failed    []string
		want      Decision
	}{
		{"first step", "full", "OPT", nil, nil, Decision{Ready: true}},
		{"dependency done", "full", "SP", []string{"OPT"}, nil, Decision{Ready: true, Dependency: "OPT", Source: "OPT"}},
		{"equivalent spelling", "full", "SP", []string{"OPT_1"}, nil, Decision{Ready: true, Dependency: "OPT", Source: "OPT_1"}},
		{"dependency running", "full", "BAND", []string{"OPT"}, nil, Decision{Dependency: "SP", Blocking: "SP"}},
		{"required failed", "full", "BAND", []string{"OPT"}, []string{"SP"}, Decision{Dependency: "SP", Blocking: "SP", Critical: true}},
		{"optional failed substitutes", "walk", "ELASTIC", []string{"OPT"}, []string{"FREQ"},
			Decision{Ready: true, Dependency: "FREQ", Source: "OPT", Substituted: true}},
		{"optional failed no substitute", "walk", "ELASTIC", nil, []string{"FREQ"}, Decision{Dependency: "FREQ", Blocking: "FREQ"}},
		{"substitute picks highest instance", "props", "BAND", []string{"OPT", "OPT3", "OPT2"}, []string{"TRANSPORT"},
			Decision{Ready: true, Dependency: "TRANSPORT", Source: "OPT3", Substituted: true}},
	}
	plans := planMap{"full": full, "walk": walk, "props": props}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := plans.Load(tt.plan)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Ready(p, tt.token, tt.completed, tt.failed))
		})
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		target    string
		completed []string
		want      string
		ok        bool
	}{
		{"SP", []string{"OPT", "OPT2"}, "OPT2", true},
		{"FREQ", []string{"SP"}, "", false},
		{"BAND", []string{"OPT", "SP"}, "SP", true},
		{"DOSS2", []string{"OPT"}, "OPT", true},
		{"TRANSPORT2", []string{"OPT", "SP"}, "SP", true},
		{"CHARGE+POTENTIAL", []string{"OPT3", "OPT"}, "OPT3", true},
		{"OPT2", []string{"SP"}, "SP", true},
		{"OPT3", []string{"SP", "OPT"}, "OPT", true},
		{"ELASTIC", []string{"SP"}, "SP", true},
		{"BAND", nil, "", false},
	}
	for _, tt := range tests {
		got, ok := Substitute(tt.target, tt.completed)
		assert.Equal(t, tt.want, got, tt.target)
		assert.Equal(t, tt.ok, ok, tt.target)
	}
}

func TestSelectArtifact(t *testing.T) {
	write := func(t *testing.T, dir, name string, age time.Duration) {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0644))
		mod := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	t.Run("token beats kind beats other", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "input.d12", 0)
		write(t, dir, "mgo_band.d12", time.Minute)
		write(t, dir, "mgo_BAND2.d12", time.Hour)
		got, err := selectArtifact(dir, ".d12", "BAND2", "/w/mgo_SP.out", nil)
		require.NoError(t, err)
		assert.Equal(t, "mgo_BAND2.d12", filepath.Base(got))
	})

	t.Run("source echo ranks last", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "mgo_SP.d12", 0)
		write(t, dir, "generated.d12", time.Hour)
		got, err := selectArtifact(dir, ".d12", "DOSS", "/w/mgo_SP.out", nil)
		require.NoError(t, err)
		assert.Equal(t, "generated.d12", filepath.Base(got))
	})

	t.Run("ties go to newest then name", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "b_DOSS.d12", time.Minute)
		write(t, dir, "a_DOSS.d12", time.Minute)
		write(t, dir, "c_DOSS.d12", time.Hour)
		got, err := selectArtifact(dir, ".d12", "DOSS", "/w/x.out", nil)
		require.NoError(t, err)
		assert.Equal(t, "a_DOSS.d12", filepath.Base(got))
	})

	t.Run("staged and foreign files ignored", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "mgo_SP.d12", 0)
		write(t, dir, "notes.txt", 0)
		_, err := selectArtifact(dir, ".d12", "BAND", "/w/mgo.out", map[string]bool{"mgo_SP.d12": true})
		assert.ErrorIs(t, err, ErrMissingArtifact)
	})
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "mgo_CHARGEPOTENTIAL_2", jobName("mgo", "CHARGE+POTENTIAL_2"))
	assert.Equal(t, "batch_1_mgo_OPT2", jobName("batch 1/mgo", "OPT2"))
}

func TestOutcomeSummary(t *testing.T) {
	assert.Equal(t, "nothing to do", (&Outcome{}).Summary())
	assert.Equal(t, "already processed", (&Outcome{AlreadyProcessed: true}).Summary())
	o := &Outcome{Created: []string{"a", "b"}, Submitted: []Submission{{}}, Deferred: []Deferral{{}}}
	assert.Equal(t, "2 created, 1 submitted, 1 deferred", o.Summary())
}
