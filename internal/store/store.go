// Package store persists materials, calculations and generation failures.
//
// Two providers implement Store: a JSON document on disk guarded by an OS
// file lock (the default, suited to a single cluster login node) and
// PostgreSQL through the pgx driver. The provider is chosen once by Open
// from configuration and passed explicitly to every consumer.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("active calculation already exists for this calc type")
)

// Store is the persisted state consumed by the workflow engine.
type Store interface {
	// EnsureMaterial creates the material if absent and returns the stored
	// record. An existing record is returned unchanged.
	EnsureMaterial(ctx context.Context, m Material) (*Material, error)
	GetMaterial(ctx context.Context, id string) (*Material, error)
	ListMaterials(ctx context.Context) ([]*Material, error)

	GetCalculation(ctx context.Context, id string) (*Calculation, error)
	ListCalculations(ctx context.Context, f Filter) ([]*Calculation, error)

	// CreateCalculation stores a new pending record and returns its id.
	// It fails with ErrDuplicate if an active record of the same canonical
	// calc type already exists for the material.
	CreateCalculation(ctx context.Context, n NewCalculation) (string, error)

	// UpdateCalculationStatus sets the status. A non-empty jobID replaces
	// the stored scheduler handle.
	UpdateCalculationStatus(ctx context.Context, id string, status Status, jobID string) error
	UpdateCalculationSettings(ctx context.Context, id string, s Settings) error

	RecordGenerationFailure(ctx context.Context, f GenerationFailure) error
	ListGenerationFailures(ctx context.Context, materialID string) ([]GenerationFailure, error)

	Close() error
}

// Provider names accepted by Open.
const (
	ProviderFile     = "file"
	ProviderPostgres = "postgres"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Path     string // file provider: JSON document path
	URL      string // postgres provider: connection string
}

// Open returns the configured provider.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderFile:
		if cfg.Path == "" {
			return nil, errors.New("file store: path is required")
		}
		return OpenFile(cfg.Path)
	case ProviderPostgres:
		return OpenPostgres(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Provider)
	}
}
