package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/calcflow/calcflow/internal/calctype"
	"github.com/calcflow/calcflow/internal/util"
)

// fileLockTimeout is how long a file-store operation waits for the document lock.
const fileLockTimeout = 30 * time.Second

// fileDocument is the on-disk layout of the file provider.
type fileDocument struct {
	Version      int                     `json:"version"`
	Materials    map[string]*Material    `json:"materials"`
	Calculations map[string]*Calculation `json:"calculations"`
	Failures     []GenerationFailure     `json:"generation_failures"`
}

func newFileDocument() *fileDocument {
	return &fileDocument{
		Version:      1,
		Materials:    make(map[string]*Material),
		Calculations: make(map[string]*Calculation),
	}
}

// FileStore keeps the whole state in one JSON document. Every operation
// takes an OS lock on <path>.lock, so separate processes (for example two
// job epilogues finishing together) serialize their read-modify-write cycles.
type FileStore struct {
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

// OpenFile returns a FileStore for path, creating its directory.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FileStore{path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

// lock acquires the cross-process document lock.
func (s *FileStore) lock(ctx context.Context, exclusive bool) (*flock.Flock, error) {
	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(ctx, fileLockTimeout)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(ctx, 50*time.Millisecond)
	} else {
		locked, err = fl.TryRLockContext(ctx, 50*time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("timeout waiting for store lock %s", s.path)
	}
	return fl, nil
}

// load reads the document. A missing file is an empty store.
func (s *FileStore) load() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return newFileDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}

	doc := newFileDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing store %s: %w", s.path, err)
	}
	if doc.Materials == nil {
		doc.Materials = make(map[string]*Material)
	}
	if doc.Calculations == nil {
		doc.Calculations = make(map[string]*Calculation)
	}
	return doc, nil
}

// view runs fn against a read-locked snapshot.
func (s *FileStore) view(ctx context.Context, fn func(*fileDocument) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fl, err := s.lock(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// update runs fn against a write-locked document and saves it if fn succeeds.
func (s *FileStore) update(ctx context.Context, fn func(*fileDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl, err := s.lock(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := util.AtomicWriteJSON(s.path, doc); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	return nil
}

func (s *FileStore) EnsureMaterial(ctx context.Context, m Material) (*Material, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("material id is required")
	}
	var out Material
	err := s.update(ctx, func(doc *fileDocument) error {
		if existing, ok := doc.Materials[m.ID]; ok {
			out = *existing
			return nil
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		stored := m
		doc.Materials[m.ID] = &stored
		out = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *FileStore) GetMaterial(ctx context.Context, id string) (*Material, error) {
	var out *Material
	err := s.view(ctx, func(doc *fileDocument) error {
		m, ok := doc.Materials[id]
		if !ok {
			return fmt.Errorf("material %s: %w", id, ErrNotFound)
		}
		cp := *m
		out = &cp
		return nil
	})
	return out, err
}

func (s *FileStore) ListMaterials(ctx context.Context) ([]*Material, error) {
	var out []*Material
	err := s.view(ctx, func(doc *fileDocument) error {
		for _, m := range doc.Materials {
			cp := *m
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *FileStore) GetCalculation(ctx context.Context, id string) (*Calculation, error) {
	var out *Calculation
	err := s.view(ctx, func(doc *fileDocument) error {
		c, ok := doc.Calculations[id]
		if !ok {
			return fmt.Errorf("calculation %s: %w", id, ErrNotFound)
		}
		out = cloneCalculation(c)
		return nil
	})
	return out, err
}

func (s *FileStore) ListCalculations(ctx context.Context, f Filter) ([]*Calculation, error) {
	var out []*Calculation
	err := s.view(ctx, func(doc *fileDocument) error {
		for _, c := range doc.Calculations {
			if f.Matches(c) {
				out = append(out, cloneCalculation(c))
			}
		}
		return nil
	})
	sortCalculations(out)
	return out, err
}

func (s *FileStore) CreateCalculation(ctx context.Context, n NewCalculation) (string, error) {
	if err := n.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	err := s.update(ctx, func(doc *fileDocument) error {
		if _, ok := doc.Materials[n.MaterialID]; !ok {
			return fmt.Errorf("material %s: %w", n.MaterialID, ErrNotFound)
		}
		for _, c := range doc.Calculations {
			if c.MaterialID == n.MaterialID && c.Status.IsActive() && calctype.Equivalent(c.CalcType, n.CalcType) {
				return fmt.Errorf("%s/%s: %w", n.MaterialID, n.CalcType, ErrDuplicate)
			}
		}
		now := s.now()
		doc.Calculations[id] = &Calculation{
			ID:         id,
			MaterialID: n.MaterialID,
			CalcType:   n.CalcType,
			Status:     StatusPending,
			InputFile:  n.InputFile,
			OutputFile: n.OutputFile,
			WorkDir:    n.WorkDir,
			Settings:   n.Settings,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *FileStore) UpdateCalculationStatus(ctx context.Context, id string, status Status, jobID string) error {
	return s.update(ctx, func(doc *fileDocument) error {
		c, ok := doc.Calculations[id]
		if !ok {
			return fmt.Errorf("calculation %s: %w", id, ErrNotFound)
		}
		if status.IsActive() && !c.Status.IsActive() {
			for _, other := range doc.Calculations {
				if other.ID != id && other.MaterialID == c.MaterialID && other.Status.IsActive() &&
					calctype.Equivalent(other.CalcType, c.CalcType) {
					return fmt.Errorf("%s/%s: %w", c.MaterialID, c.CalcType, ErrDuplicate)
				}
			}
		}
		c.Status = status
		if jobID != "" {
			c.JobID = jobID
		}
		c.UpdatedAt = s.now()
		return nil
	})
}

func (s *FileStore) UpdateCalculationSettings(ctx context.Context, id string, settings Settings) error {
	return s.update(ctx, func(doc *fileDocument) error {
		c, ok := doc.Calculations[id]
		if !ok {
			return fmt.Errorf("calculation %s: %w", id, ErrNotFound)
		}
		if err := settings.Validate(c.CalcType); err != nil {
			return err
		}
		c.Settings = settings
		c.UpdatedAt = s.now()
		return nil
	})
}

func (s *FileStore) RecordGenerationFailure(ctx context.Context, f GenerationFailure) error {
	if f.At.IsZero() {
		f.At = s.now()
	}
	return s.update(ctx, func(doc *fileDocument) error {
		doc.Failures = append(doc.Failures, f)
		return nil
	})
}

func (s *FileStore) ListGenerationFailures(ctx context.Context, materialID string) ([]GenerationFailure, error) {
	var out []GenerationFailure
	err := s.view(ctx, func(doc *fileDocument) error {
		for _, f := range doc.Failures {
			if materialID == "" || f.MaterialID == materialID {
				out = append(out, f)
			}
		}
		return nil
	})
	return out, err
}

func (s *FileStore) Close() error {
	return nil
}

func cloneCalculation(c *Calculation) *Calculation {
	cp := *c
	if c.Settings.ExtraArgs != nil {
		cp.Settings.ExtraArgs = append([]string(nil), c.Settings.ExtraArgs...)
	}
	if c.Settings.ProcessedAt != nil {
		at := *c.Settings.ProcessedAt
		cp.Settings.ProcessedAt = &at
	}
	return &cp
}

// sortCalculations orders by creation time, then id, for stable output.
func sortCalculations(calcs []*Calculation) {
	sort.Slice(calcs, func(i, j int) bool {
		if !calcs[i].CreatedAt.Equal(calcs[j].CreatedAt) {
			return calcs[i].CreatedAt.Before(calcs[j].CreatedAt)
		}
		return calcs[i].ID < calcs[j].ID
	})
}
