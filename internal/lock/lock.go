// Package lock provides per-material mutual exclusion for the workflow engine.
//
// A material lock combines an in-process semaphore with an OS file lock at
// <dir>/<material>.lock, so goroutines and separate calcflow processes (for
// example two batch-job epilogues finishing together) serialize the
// check-then-create sequence for one material.
//
// Locks are re-entrant through the context: Acquire returns a derived
// context that records the material, and acquiring again with that context
// (or any context derived from it) succeeds immediately.
//
// While held, a holder file <material>.holder records the PID, host and
// acquisition time for diagnostics. The kernel drops the OS lock when its
// process dies, so a holder file whose lock can be taken is stale.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/calcflow/calcflow/internal/util"
)

// Common errors
var (
	ErrLocked      = errors.New("material is locked by another holder")
	ErrInvalidLock = errors.New("invalid lock holder file")
)

// DefaultTimeout bounds how long Acquire waits.
const DefaultTimeout = 2 * time.Minute

// pollInterval is the file-lock retry interval.
const pollInterval = 50 * time.Millisecond

// LockInfo contains information about who holds a lock.
type LockInfo struct {
	Material   string    `json:"material"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Hostname   string    `json:"hostname,omitempty"`
	Purpose    string    `json:"purpose,omitempty"`
}

// Manager hands out material locks rooted at one directory.
type Manager struct {
	dir     string
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewManager creates a Manager storing lock files in dir.
// A zero timeout means DefaultTimeout.
func NewManager(dir string, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		dir:     dir,
		timeout: timeout,
		slots:   make(map[string]chan struct{}),
	}
}

// Dir returns the lock directory.
func (m *Manager) Dir() string {
	return m.dir
}

type heldKey struct{}

// held is an immutable chain of materials locked by a context.
type held struct {
	material string
	parent   *held
}

func heldFrom(ctx context.Context) *held {
	h, _ := ctx.Value(heldKey{}).(*held)
	return h
}

// Holds reports whether ctx already holds the lock for material.
func Holds(ctx context.Context, material string) bool {
	for h := heldFrom(ctx); h != nil; h = h.parent {
		if h.material == material {
			return true
		}
	}
	return false
}

// slot returns the in-process semaphore for a material.
func (m *Manager) slot(material string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[material]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[material] = s
	}
	return s
}

// Acquire locks material and returns a context carrying the hold plus a
// release function. Re-acquiring with a context that already holds the
// material returns the same context and a no-op release.
// Returns ErrLocked if the lock cannot be obtained within the timeout.
func (m *Manager) Acquire(ctx context.Context, material, purpose string) (context.Context, func(), error) {
	if Holds(ctx, material) {
		return ctx, func() {}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	slot := m.slot(material)
	select {
	case slot <- struct{}{}:
	case <-waitCtx.Done():
		return nil, nil, m.lockedError(material, waitCtx.Err())
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		<-slot
		return nil, nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(m.lockPath(material))
	locked, err := fl.TryLockContext(waitCtx, pollInterval)
	if err != nil || !locked {
		<-slot
		if err == nil {
			err = waitCtx.Err()
		}
		return nil, nil, m.lockedError(material, err)
	}

	if err := m.writeHolder(material, purpose); err != nil {
		_ = fl.Unlock()
		<-slot
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_ = os.Remove(m.holderPath(material))
			_ = fl.Unlock()
			<-slot
		})
	}
	return context.WithValue(ctx, heldKey{}, &held{material: material, parent: heldFrom(ctx)}), release, nil
}

// WithLock runs fn while holding the material lock.
func (m *Manager) WithLock(ctx context.Context, material, purpose string, fn func(ctx context.Context) error) error {
	lockedCtx, release, err := m.Acquire(ctx, material, purpose)
	if err != nil {
		return err
	}
	defer release()
	return fn(lockedCtx)
}

func (m *Manager) lockedError(material string, cause error) error {
	if info, err := m.Read(material); err == nil {
		return fmt.Errorf("%w: %s held by PID %d (%s, acquired %s)",
			ErrLocked, material, info.PID, info.Purpose, info.AcquiredAt.Format(time.RFC3339))
	}
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrLocked, material, cause)
	}
	return fmt.Errorf("%w: %s", ErrLocked, material)
}

// Read returns the current holder of a material lock, if any.
func (m *Manager) Read(material string) (*LockInfo, error) {
	data, err := os.ReadFile(m.holderPath(material))
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLock, err)
	}
	return &info, nil
}

// Holders lists every recorded holder in the lock directory.
func (m *Manager) Holders() ([]*LockInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lock directory: %w", err)
	}

	var infos []*LockInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".holder") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var info LockInfo
		if json.Unmarshal(data, &info) == nil {
			infos = append(infos, &info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Material < infos[j].Material })
	return infos, nil
}

// IsStale reports whether info was left behind by a holder that no longer
// has the material locked. Holders recorded on another host are never
// stale: file locks are not trusted across machines.
func (m *Manager) IsStale(info *LockInfo) bool {
	stale, release := m.probe(info)
	release()
	return stale
}

// probe tries the material's file lock without waiting. When the lock is
// free the holder is stale, and the caller keeps the lock until release.
func (m *Manager) probe(info *LockInfo) (bool, func()) {
	noop := func() {}
	if host, _ := os.Hostname(); info.Hostname != "" && host != "" && info.Hostname != host {
		return false, noop
	}
	fl := flock.New(m.lockPath(info.Material))
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return false, noop
	}
	return true, func() { _ = fl.Unlock() }
}

// CleanStaleHolders removes holder files whose lock is no longer held.
// Returns the number of files removed.
func (m *Manager) CleanStaleHolders() (int, error) {
	infos, err := m.Holders()
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, info := range infos {
		stale, release := m.probe(info)
		if stale && os.Remove(m.holderPath(info.Material)) == nil {
			cleaned++
		}
		release()
	}
	return cleaned, nil
}

func (m *Manager) writeHolder(material, purpose string) error {
	hostname, _ := os.Hostname()
	info := LockInfo{
		Material:   material,
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
		Hostname:   hostname,
		Purpose:    purpose,
	}
	if err := util.AtomicWriteJSON(m.holderPath(material), info); err != nil {
		return fmt.Errorf("writing lock holder: %w", err)
	}
	return nil
}

func (m *Manager) lockPath(material string) string {
	return filepath.Join(m.dir, fileName(material)+".lock")
}

func (m *Manager) holderPath(material string) string {
	return filepath.Join(m.dir, fileName(material)+".holder")
}

// fileName maps a material id onto a safe file name.
func fileName(material string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	name := r.Replace(material)
	if name == "" {
		return "_"
	}
	return name
}
