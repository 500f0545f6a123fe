package plan

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const tomlPlan = `
id = "custom"
description = "toml plan"

[[steps]]
token = "OPT"

[steps.settings.opt]
max_cycles = 50

[[steps]]
token = "SP"
args = ["--shrink=8"]
`

const yamlPlan = `
id: custom
steps:
  - token: OPT
  - token: SP
  - token: DOSS
    settings:
      doss:
        points: 300
`

const jsonPlan = `{"id": "custom", "sequence": ["OPT", "FREQ"]}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile_Formats(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		file   string
		data   string
		tokens []string
	}{
		{"custom.toml", tomlPlan, []string{"OPT", "SP"}},
		{"custom.yaml", yamlPlan, []string{"OPT", "SP", "DOSS"}},
		{"custom.json", jsonPlan, []string{"OPT", "FREQ"}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.data)

			p, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile() error: %v", err)
			}
			if p.ID != "custom" || p.Source != path {
				t.Errorf("ID/Source = %q/%q", p.ID, p.Source)
			}
			if diff := cmp.Diff(tt.tokens, p.Tokens()); diff != "" {
				t.Errorf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFile_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	writeFile(t, path, tomlPlan)

	p, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	opt, _ := p.Step("OPT")
	if opt.Settings.Opt == nil || opt.Settings.Opt.MaxCycles != 50 {
		t.Errorf("OPT override = %+v", opt.Settings.Opt)
	}
	sp, _ := p.Step("SP")
	if diff := cmp.Diff([]string{"--shrink=8"}, sp.Args); diff != "" {
		t.Errorf("SP args mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_IDFromFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "named.yaml")
	writeFile(t, path, "sequence: [OPT, SP]\n")

	p, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "named" {
		t.Errorf("ID = %q, want named", p.ID)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad.toml":  "id = ",
		"dup.yaml":  "id: dup\nsequence: [OPT, OPT1]\n",
		"extra.json": `{"id": "x", "sequence": ["OPT"], "unknown": 1}`,
		"plan.txt":  "OPT SP",
	}
	for name, data := range cases {
		path := filepath.Join(dir, name)
		writeFile(t, path, data)
		if _, err := LoadFile(path); err == nil {
			t.Errorf("LoadFile(%s) should fail", name)
		}
	}
}

func TestLoader_SearchOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(second, "custom.toml"), tomlPlan)
	writeFile(t, filepath.Join(first, "custom.json"), jsonPlan)

	l, err := NewLoader([]string{first, second}, 0)
	if err != nil {
		t.Fatal(err)
	}
	p, err := l.Load("custom")
	if err != nil {
		t.Fatal(err)
	}
	if p.Source != filepath.Join(first, "custom.json") {
		t.Errorf("Source = %s, want first directory", p.Source)
	}
}

func TestLoader_CacheInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	writeFile(t, path, jsonPlan)

	l, err := NewLoader([]string{dir}, 4)
	if err != nil {
		t.Fatal(err)
	}
	a, err := l.Load("custom")
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Load("custom")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("unchanged file should be served from cache")
	}

	writeFile(t, path, `{"id": "custom", "sequence": ["OPT", "SP", "BAND"]}`)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	c, err := l.Load("custom")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Steps) != 3 {
		t.Errorf("reloaded plan has %d steps, want 3", len(c.Steps))
	}
}

func TestLoader_ConcurrentLoads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "custom.toml"), tomlPlan)
	l, err := NewLoader([]string{dir}, 0)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Load("custom"); err != nil {
				t.Errorf("Load() error: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestLoader_BuiltinFallbackAndNotFound(t *testing.T) {
	l, err := NewLoader([]string{t.TempDir()}, 0)
	if err != nil {
		t.Fatal(err)
	}

	p, err := l.Load("full_electronic")
	if err != nil {
		t.Fatalf("builtin fallback: %v", err)
	}
	if p.Source != "builtin:full_electronic" {
		t.Errorf("Source = %q", p.Source)
	}

	if _, err := l.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(nope) error = %v, want ErrNotFound", err)
	}
	if _, err := l.Load("../etc"); err == nil {
		t.Error("path-like ids must be rejected")
	}
}

func TestLoader_List(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "custom.toml"), tomlPlan)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	l, err := NewLoader([]string{dir, filepath.Join(dir, "missing")}, 0)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"custom", "full_electronic", "opt_freq", "opt_sp"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}
