package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/edgeforge/edgeforge/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists resource state and run history in a single SQLite
// file. Attribute trees and run reports are stored as JSON columns.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Get retrieves a resource state by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*engine.ResourceState, error) {
	query := `
		SELECT id, kind, provider_id, declared, observed, last_applied_hash, status, dependencies, created_at, updated_at
		FROM resource_states
		WHERE id = ?
	`

	st, err := scanState(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource state %q: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource state: %w", err)
	}
	return st, nil
}

// List returns all resource states ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]*engine.ResourceState, error) {
	query := `
		SELECT id, kind, provider_id, declared, observed, last_applied_hash, status, dependencies, created_at, updated_at
		FROM resource_states
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource states: %w", err)
	}
	defer rows.Close()

	states := []*engine.ResourceState{}
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resource states: %w", err)
	}
	return states, nil
}

// Save inserts or updates a resource state.
func (s *SQLiteStore) Save(ctx context.Context, state *engine.ResourceState) error {
	declared, err := json.Marshal(state.Declared)
	if err != nil {
		return fmt.Errorf("failed to marshal declared attributes: %w", err)
	}
	observed, err := json.Marshal(state.Observed)
	if err != nil {
		return fmt.Errorf("failed to marshal observed attributes: %w", err)
	}
	deps, err := json.Marshal(state.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}

	query := `
		INSERT INTO resource_states (id, kind, provider_id, declared, observed, last_applied_hash, status, dependencies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			provider_id = excluded.provider_id,
			declared = excluded.declared,
			observed = excluded.observed,
			last_applied_hash = excluded.last_applied_hash,
			status = excluded.status,
			dependencies = excluded.dependencies,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		state.ID,
		string(state.Kind),
		state.ProviderID,
		string(declared),
		string(observed),
		state.LastAppliedHash,
		string(state.Status),
		string(deps),
		state.CreatedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save resource state: %w", err)
	}
	return nil
}

// Delete removes a resource state. Deleting an absent id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resource_states WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete resource state: %w", err)
	}
	return nil
}

// SaveRun persists a finished run report.
func (s *SQLiteStore) SaveRun(ctx context.Context, report *engine.RunReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	query := `
		INSERT INTO runs (id, status, started_at, completed_at, report)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		report.RunID,
		string(report.Status),
		report.StartedAt,
		report.CompletedAt,
		string(blob),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent run reports, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*engine.RunReport, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT report
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	reports := []*engine.RunReport{}
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		report := &engine.RunReport{}
		if err := json.Unmarshal([]byte(blob), report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return reports, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*engine.ResourceState, error) {
	var (
		st       engine.ResourceState
		kind     string
		status   string
		declared string
		observed string
		deps     string
	)
	err := row.Scan(
		&st.ID,
		&kind,
		&st.ProviderID,
		&declared,
		&observed,
		&st.LastAppliedHash,
		&status,
		&deps,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.Kind = engine.Kind(kind)
	st.Status = engine.ResourceStatus(status)
	if err := json.Unmarshal([]byte(declared), &st.Declared); err != nil {
		return nil, fmt.Errorf("corrupt declared attributes: %w", err)
	}
	if err := json.Unmarshal([]byte(observed), &st.Observed); err != nil {
		return nil, fmt.Errorf("corrupt observed attributes: %w", err)
	}
	if strings.TrimSpace(deps) != "" {
		if err := json.Unmarshal([]byte(deps), &st.Dependencies); err != nil {
			return nil, fmt.Errorf("corrupt dependencies: %w", err)
		}
	}
	return &st, nil
}
