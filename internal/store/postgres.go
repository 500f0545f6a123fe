package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/calcflow/calcflow/internal/calctype"
)

// Postgres pool defaults.
const (
	pgPingTimeout     = 5 * time.Second
	pgMaxOpenConns    = 4
	pgMaxIdleConns    = 2
	pgConnMaxLifetime = 30 * time.Minute
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// postgresSchema is applied idempotently on open. The partial unique index
// enforces one active calculation per canonical calc type and material.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS materials (
		id          TEXT PRIMARY KEY,
		formula     TEXT NOT NULL DEFAULT '',
		source_file TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		workflow_id TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calculations (
		id                  TEXT PRIMARY KEY,
		material_id         TEXT NOT NULL REFERENCES materials(id),
		calc_type           TEXT NOT NULL,
		calc_type_canonical TEXT NOT NULL,
		status              TEXT NOT NULL,
		input_file          TEXT NOT NULL,
		output_file         TEXT NOT NULL DEFAULT '',
		work_dir            TEXT NOT NULL DEFAULT '',
		job_id              TEXT NOT NULL DEFAULT '',
		settings            JSONB NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS calculations_one_active_type
		ON calculations (material_id, calc_type_canonical)
		WHERE status IN ('pending', 'submitted', 'running', 'completed')`,
	`CREATE INDEX IF NOT EXISTS calculations_material_status
		ON calculations (material_id, status)`,
	`CREATE TABLE IF NOT EXISTS generation_failures (
		id          BIGSERIAL PRIMARY KEY,
		material_id TEXT NOT NULL,
		calc_type   TEXT NOT NULL,
		reason      TEXT NOT NULL,
		critical    BOOLEAN NOT NULL,
		at          TIMESTAMPTZ NOT NULL
	)`,
}

const calculationColumns = `id, material_id, calc_type, status, input_file, output_file, work_dir, job_id, settings, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL via the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("postgres store: database url is required")
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pgPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an already-open database handle.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) EnsureMaterial(ctx context.Context, m Material) (*Material, error) {
	if m.ID == "" {
		return nil, errors.New("material id is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO materials (id, formula, source_file, source_type, workflow_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Formula, m.SourceFile, m.SourceType, m.WorkflowID, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting material: %w", err)
	}
	return s.GetMaterial(ctx, m.ID)
}

func (s *PostgresStore) GetMaterial(ctx context.Context, id string) (*Material, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, formula, source_file, source_type, workflow_id, created_at FROM materials WHERE id = $1`, id)
	var m Material
	if err := row.Scan(&m.ID, &m.Formula, &m.SourceFile, &m.SourceType, &m.WorkflowID, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("material %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading material: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMaterials(ctx context.Context) ([]*Material, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, formula, source_file, source_type, workflow_id, created_at FROM materials ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing materials: %w", err)
	}
	defer rows.Close()

	var out []*Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Formula, &m.SourceFile, &m.SourceType, &m.WorkflowID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning material: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCalculation(r rowScanner) (*Calculation, error) {
	var c Calculation
	var status string
	var settings []byte
	if err := r.Scan(&c.ID, &c.MaterialID, &c.CalcType, &status, &c.InputFile, &c.OutputFile,
		&c.WorkDir, &c.JobID, &settings, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if err := json.Unmarshal(settings, &c.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings for %s: %w", c.ID, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetCalculation(ctx context.Context, id string) (*Calculation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+calculationColumns+` FROM calculations WHERE id = $1`, id)
	c, err := scanCalculation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("calculation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading calculation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCalculations(ctx context.Context, f Filter) ([]*Calculation, error) {
	query := `SELECT ` + calculationColumns + ` FROM calculations`
	var where []string
	var args []any
	if f.MaterialID != "" {
		args = append(args, f.MaterialID)
		where = append(where, fmt.Sprintf("material_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CalcType != "" {
		args = append(args, calctype.Canonical(f.CalcType))
		where = append(where, fmt.Sprintf("calc_type_canonical = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing calculations: %w", err)
	}
	defer rows.Close()

	var out []*Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning calculation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateCalculation(ctx context.Context, n NewCalculation) (string, error) {
	if err := n.Validate(); err != nil {
		return "", err
	}
	settings, err := json.Marshal(n.Settings)
	if err != nil {
		return "", fmt.Errorf("encoding settings: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calculations (id, material_id, calc_type, calc_type_canonical, status, input_file,
			output_file, work_dir, job_id, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $10, $10)`,
		id, n.MaterialID, n.CalcType, calctype.Canonical(n.CalcType), string(StatusPending),
		n.InputFile, n.OutputFile, n.WorkDir, settings, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%s/%s: %w", n.MaterialID, n.CalcType, ErrDuplicate)
		}
		return "", fmt.Errorf("inserting calculation: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateCalculationStatus(ctx context.Context, id string, status Status, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calculations
		 SET status = $2, job_id = CASE WHEN $3 = '' THEN job_id ELSE $3 END, updated_at = $4
		 WHERE id = $1`,
		id, string(status), jobID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("calculation %s: %w", id, ErrDuplicate)
		}
		return fmt.Errorf("updating status: %w", err)
	}
	return expectOneRow(res, id)
}

func (s *PostgresStore) UpdateCalculationSettings(ctx context.Context, id string, settings Settings) error {
	c, err := s.GetCalculation(ctx, id)
	if err != nil {
		return err
	}
	if err := settings.Validate(c.CalcType); err != nil {
		return err
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE calculations SET settings = $2, updated_at = $3 WHERE id = $1`,
		id, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating settings: %w", err)
	}
	return expectOneRow(res, id)
}

func (s *PostgresStore) RecordGenerationFailure(ctx context.Context, f GenerationFailure) error {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_failures (material_id, calc_type, reason, critical, at) VALUES ($1, $2, $3, $4, $5)`,
		f.MaterialID, f.CalcType, f.Reason, f.Critical, f.At)
	if err != nil {
		return fmt.Errorf("recording generation failure: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGenerationFailures(ctx context.Context, materialID string) ([]GenerationFailure, error) {
	query := `SELECT material_id, calc_type, reason, critical, at FROM generation_failures`
	var args []any
	if materialID != "" {
		query += ` WHERE material_id = $1`
		args = append(args, materialID)
	}
	query += ` ORDER BY at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing generation failures: %w", err)
	}
	defer rows.Close()

	var out []GenerationFailure
	for rows.Next() {
		var f GenerationFailure
		if err := rows.Scan(&f.MaterialID, &f.CalcType, &f.Reason, &f.Critical, &f.At); err != nil {
			return nil, fmt.Errorf("scanning generation failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("calculation %s: %w", id, ErrNotFound)
	}
	return nil
}
