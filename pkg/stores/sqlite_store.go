// Package stores provides the SQLite persistence layer for the memory
// service and the audit trail.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/bijux/bijux-cli/pkg/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore backs the memory and audit services with a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new store instance. Init must be called before
// any query.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded migrations.
func (s *SQLiteStore) migrate() error {
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

// SetMemory stores or replaces a key.
func (s *SQLiteStore) SetMemory(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO memory (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set memory key: %w", err)
	}
	return nil
}

// GetMemory returns the value for key.
func (s *SQLiteStore) GetMemory(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM memory WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.NewNotFoundError(fmt.Sprintf("key not found: %s", key), nil).
			WithFailure(core.FailKeyNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get memory key: %w", err)
	}
	return value, nil
}

// DeleteMemory removes a key; missing keys fail NotFound.
func (s *SQLiteStore) DeleteMemory(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memory WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete memory key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return core.NewNotFoundError(fmt.Sprintf("key not found: %s", key), nil).
			WithFailure(core.FailKeyNotFound)
	}
	return nil
}

// ListMemory returns every record in key order.
func (s *SQLiteStore) ListMemory(ctx context.Context) ([]MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM memory ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory: %w", err)
	}
	defer rows.Close()

	records := []MemoryRecord{}
	for rows.Next() {
		var r MemoryRecord
		if err := rows.Scan(&r.Key, &r.Value, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ClearMemory removes every record.
func (s *SQLiteStore) ClearMemory(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory`); err != nil {
		return fmt.Errorf("failed to clear memory: %w", err)
	}
	return nil
}

// AppendAudit records one audit event. A missing ID or timestamp is filled
// in here; id is the primary key, so it must never be empty.
func (s *SQLiteStore) AppendAudit(ctx context.Context, ev AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO audit (id, command, outcome, exit_code, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Command, ev.Outcome, ev.ExitCode, ev.DurationMS, ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit events, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, command, outcome, exit_code, duration_ms, created_at
		FROM audit
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.ID, &ev.Command, &ev.Outcome, &ev.ExitCode, &ev.DurationMS, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
