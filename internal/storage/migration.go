package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// migrationLock ensures only one migration can run at a time
var migrationLock sync.Mutex

// Migration represents a database migration
type Migration struct {
	Version     int64
	Description string
	SQL         string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version:     1,
		Description: "Create token request ledger",
		SQL: `
			CREATE TABLE IF NOT EXISTS token_requests (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				credential_key TEXT NOT NULL,
				requested_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_token_requests_key_time ON token_requests(credential_key, requested_at);
		`,
	},
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version   int64
	AppliedAt time.Time
}

// Migrate applies all pending database migrations
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	migrationLock.Lock()
	defer migrationLock.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}

// GetMigrationStatus returns the current migration status
func (s *SQLiteStorage) GetMigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, applied_at
		FROM schema_migrations
		ORDER BY version
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var status []MigrationStatus
	for rows.Next() {
		var ms MigrationStatus
		if err := rows.Scan(&ms.Version, &ms.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		status = append(status, ms)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate migrations: %w", err)
	}

	return status, nil
}
