package plan

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinPlansAreValid(t *testing.T) {
	ids, err := BuiltinIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) == 0 {
		t.Fatal("should have embedded plans")
	}
	for _, id := range ids {
		p, err := Builtin(id)
		if err != nil {
			t.Errorf("Builtin(%s): %v", id, err)
			continue
		}
		if p.ID != id {
			t.Errorf("embedded plan %s declares id %q", id, p.ID)
		}
	}
}

func TestProvision_FreshInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plans")

	count, err := Provision(dir)
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	ids, _ := BuiltinIDs()
	if count != len(ids) {
		t.Errorf("provisioned %d, want %d", count, len(ids))
	}

	installed, err := loadInstalledRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if _, ok := installed.Plans[id+".toml"]; !ok {
			t.Errorf("installed record missing %s", id)
		}
	}

	// Second run writes nothing.
	again, err := Provision(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again != 0 {
		t.Errorf("second Provision() = %d, want 0", again)
	}
}

func TestProvision_KeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	custom := "id = \"opt_sp\"\nsequence = [\"OPT\"]\n"
	if err := os.WriteFile(filepath.Join(dir, "opt_sp.toml"), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Provision(dir); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "opt_sp.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != custom {
		t.Error("existing plan was overwritten")
	}
}

func TestCheckHealthAndUpdate(t *testing.T) {
	dir := t.TempDir()
	if _, err := Provision(dir); err != nil {
		t.Fatal(err)
	}

	report, err := CheckHealth(dir)
	if err != nil {
		t.Fatal(err)
	}
	if report.NeedsUpdate() || report.OK != len(report.Plans) {
		t.Fatalf("fresh install should be healthy: %+v", report)
	}

	// User edit is preserved; deletion is reinstalled.
	edited := filepath.Join(dir, "opt_sp.toml")
	if err := os.WriteFile(edited, []byte("id = \"opt_sp\"\nsequence = [\"OPT\"]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "opt_freq.toml")); err != nil {
		t.Fatal(err)
	}

	report, err = CheckHealth(dir)
	if err != nil {
		t.Fatal(err)
	}
	if report.Modified != 1 || report.Missing != 1 {
		t.Fatalf("report = %+v, want 1 modified and 1 missing", report)
	}

	updated, skipped, err := Update(dir)
	if err != nil {
		t.Fatal(err)
	}
	if updated != 1 || skipped != 1 {
		t.Errorf("Update() = (%d, %d), want (1, 1)", updated, skipped)
	}
	if _, err := os.Stat(filepath.Join(dir, "opt_freq.toml")); err != nil {
		t.Errorf("missing plan not reinstalled: %v", err)
	}
}
