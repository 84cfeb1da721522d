package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// SQLiteStorage persists the token request ledger. It stores credential
// keys and timestamps only, never tokens or secrets.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage wraps an open database handle
func NewSQLiteStorage(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// validateKey checks that a credential key is usable
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: credential key cannot be empty", ErrInvalidInput)
	}
	return nil
}

// Record stores one token request for a credential key
func (s *SQLiteStorage) Record(ctx context.Context, key string, at time.Time) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if at.IsZero() {
		return fmt.Errorf("%w: request time cannot be zero", ErrInvalidInput)
	}

	query := `INSERT INTO token_requests (credential_key, requested_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, key, at.UTC().UnixNano()); err != nil {
		return fmt.Errorf("failed to record token request: %w", err)
	}
	return nil
}

// Since returns the request times for key strictly after since, oldest first
func (s *SQLiteStorage) Since(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT requested_at
		FROM token_requests
		WHERE credential_key = ? AND requested_at > ?
		ORDER BY requested_at`,
		key, since.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query token requests: %w", err)
	}
	defer rows.Close()

	var stamps []time.Time
	for rows.Next() {
		var nanos int64
		if err := rows.Scan(&nanos); err != nil {
			return nil, fmt.Errorf("failed to scan token request: %w", err)
		}
		stamps = append(stamps, time.Unix(0, nanos).UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token requests: %w", err)
	}
	return stamps, nil
}

// CountByKey returns how many requests each credential key made after since
func (s *SQLiteStorage) CountByKey(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT credential_key, COUNT(*)
		FROM token_requests
		WHERE requested_at > ?
		GROUP BY credential_key`,
		since.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to count token requests: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan token request count: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token request counts: %w", err)
	}
	return counts, nil
}
