package plan

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calcflow/calcflow/internal/util"
)

//go:embed plans/*.toml
var plansFS embed.FS

// installedFile records the checksums of provisioned plans.
const installedFile = ".installed.json"

// InstalledRecord tracks which plans were installed and their checksums.
type InstalledRecord struct {
	Plans map[string]string `json:"plans"` // filename -> sha256 at install time
}

// Plan file states reported by CheckHealth.
const (
	HealthOK        = "ok"
	HealthOutdated  = "outdated"
	HealthModified  = "modified"
	HealthMissing   = "missing"
	HealthNew       = "new"
	HealthUntracked = "untracked"
	HealthError     = "error"
)

// FileStatus is the state of one provisioned plan file.
type FileStatus struct {
	Name          string
	Status        string
	EmbeddedHash  string
	InstalledHash string
	CurrentHash   string
}

// HealthReport summarizes provisioned plans against the embedded copies.
type HealthReport struct {
	Plans []FileStatus

	OK        int
	Outdated  int // embedded changed, user hasn't modified
	Modified  int // user edited a tracked file
	Missing   int // tracked file was deleted
	New       int // embedded plan never installed
	Untracked int // file exists but was not installed by us
}

// NeedsUpdate reports whether Update would change anything.
func (r *HealthReport) NeedsUpdate() bool {
	return r.Outdated+r.Missing+r.New+r.Untracked > 0
}

func computeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func embeddedPlans() (map[string][]byte, error) {
	entries, err := plansFS.ReadDir("plans")
	if err != nil {
		return nil, fmt.Errorf("reading embedded plans: %w", err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := plansFS.ReadFile("plans/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		out[e.Name()] = data
	}
	return out, nil
}

// BuiltinIDs lists the embedded workflow ids.
func BuiltinIDs() ([]string, error) {
	plans, err := embeddedPlans()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(plans))
	for name := range plans {
		ids = append(ids, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(ids)
	return ids, nil
}

// Builtin returns an embedded plan by workflow id.
func Builtin(id string) (*Plan, error) {
	data, err := plansFS.ReadFile("plans/" + id + ".toml")
	if err != nil {
		return nil, fmt.Errorf("%w: builtin %s", ErrNotFound, id)
	}
	p, err := Parse(data, ".toml")
	if err != nil {
		return nil, fmt.Errorf("builtin %s: %w", id, err)
	}
	p.Source = "builtin:" + id
	return p, nil
}

func loadInstalledRecord(dir string) (*InstalledRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, installedFile))
	if os.IsNotExist(err) {
		return &InstalledRecord{Plans: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading installed record: %w", err)
	}
	var r InstalledRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing installed record: %w", err)
	}
	if r.Plans == nil {
		r.Plans = make(map[string]string)
	}
	return &r, nil
}

func saveInstalledRecord(dir string, r *InstalledRecord) error {
	return util.AtomicWriteJSON(filepath.Join(dir, installedFile), r)
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return computeHash(data), nil
}

// Provision writes the embedded plans into dir, never overwriting an
// existing file. Returns the number of plans written.
func Provision(dir string) (int, error) {
	plans, err := embeddedPlans()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating plans directory: %w", err)
	}
	installed, err := loadInstalledRecord(dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for name, data := range plans {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil || !os.IsNotExist(err) {
			continue
		}
		if err := util.AtomicWriteFile(dest, data, 0644); err != nil {
			return count, fmt.Errorf("writing %s: %w", name, err)
		}
		installed.Plans[name] = computeHash(data)
		count++
	}

	if err := saveInstalledRecord(dir, installed); err != nil {
		return count, fmt.Errorf("saving installed record: %w", err)
	}
	return count, nil
}

// CheckHealth compares provisioned plans in dir with the embedded copies.
func CheckHealth(dir string) (*HealthReport, error) {
	plans, err := embeddedPlans()
	if err != nil {
		return nil, err
	}
	installed, err := loadInstalledRecord(dir)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{}
	for name, data := range plans {
		st := FileStatus{Name: name, EmbeddedHash: computeHash(data)}
		installedHash, tracked := installed.Plans[name]
		st.InstalledHash = installedHash

		current, err := fileHash(filepath.Join(dir, name))
		switch {
		case os.IsNotExist(err) && tracked:
			st.Status = HealthMissing
			report.Missing++
		case os.IsNotExist(err):
			st.Status = HealthNew
			report.New++
		case err != nil:
			st.Status = HealthError
		case current == st.EmbeddedHash:
			st.CurrentHash = current
			st.Status = HealthOK
			report.OK++
		case tracked && current == installedHash:
			st.CurrentHash = current
			st.Status = HealthOutdated
			report.Outdated++
		case tracked:
			st.CurrentHash = current
			st.Status = HealthModified
			report.Modified++
		default:
			st.CurrentHash = current
			st.Status = HealthUntracked
			report.Untracked++
		}
		report.Plans = append(report.Plans, st)
	}
	sort.Slice(report.Plans, func(i, j int) bool { return report.Plans[i].Name < report.Plans[j].Name })
	return report, nil
}

// Update rewrites plans that are safe to update: outdated, missing, new
// or untracked. Plans the user edited are skipped.
func Update(dir string) (updated, skipped int, err error) {
	report, err := CheckHealth(dir)
	if err != nil {
		return 0, 0, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, 0, fmt.Errorf("creating plans directory: %w", err)
	}
	installed, err := loadInstalledRecord(dir)
	if err != nil {
		return 0, 0, err
	}

	for _, st := range report.Plans {
		switch st.Status {
		case HealthModified:
			skipped++
			continue
		case HealthOK, HealthError:
			continue
		}
		data, err := plansFS.ReadFile("plans/" + st.Name)
		if err != nil {
			return updated, skipped, fmt.Errorf("reading %s: %w", st.Name, err)
		}
		if err := util.AtomicWriteFile(filepath.Join(dir, st.Name), data, 0644); err != nil {
			return updated, skipped, fmt.Errorf("writing %s: %w", st.Name, err)
		}
		installed.Plans[st.Name] = st.EmbeddedHash
		updated++
	}

	if err := saveInstalledRecord(dir, installed); err != nil {
		return updated, skipped, fmt.Errorf("saving installed record: %w", err)
	}
	return updated, skipped, nil
}
