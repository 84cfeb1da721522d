package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// MemoryPath opens a ledger that lives only as long as the process.
const MemoryPath = ":memory:"

// openTimeout bounds the ping and migrations run by OpenDatabase.
const openTimeout = 5 * time.Second

// Config sizes the connection pool of the quota ledger. The ledger sees a
// handful of writes per day and one read per token request, so the pool is
// small and connections are recycled often.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// BusyTimeout is how long SQLite waits on a locked database before
	// failing a statement.
	BusyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Path:            "trados_tasks.db",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var problems []error
	check := func(bad bool, msg string) {
		if bad {
			problems = append(problems, errors.New(msg))
		}
	}

	check(c.Path == "", "path is empty")
	check(c.MaxOpenConns <= 0, "max_open_conns must be positive")
	check(c.MaxIdleConns < 0, "max_idle_conns is negative")
	check(c.MaxIdleConns > c.MaxOpenConns, "max_idle_conns exceeds max_open_conns")
	check(c.ConnMaxLifetime <= 0, "conn_max_lifetime must be positive")
	check(c.ConnMaxIdleTime <= 0, "conn_max_idle_time must be positive")
	check(c.ConnMaxIdleTime > c.ConnMaxLifetime, "conn_max_idle_time exceeds conn_max_lifetime")
	check(c.BusyTimeout <= 0, "busy_timeout must be positive")

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, errors.Join(problems...))
}

func (c Config) inMemory() bool {
	return c.Path == MemoryPath
}

// dsn builds the go-sqlite3 connection string. WAL keeps the pruning job
// from blocking quota reads.
func (c Config) dsn() string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10))
	if c.inMemory() {
		return "file::memory:?" + params.Encode()
	}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	return c.Path + "?" + params.Encode()
}

// OpenDatabase opens the quota ledger at cfg.Path and brings its schema up
// to date.
func OpenDatabase(ctx context.Context, cfg Config) (*SQLiteStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", cfg.Path, err)
	}

	if cfg.inMemory() {
		// Every connection to :memory: would see its own empty database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	ledger := NewSQLiteStorage(db)
	if err := ledger.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ledger, nil
}

func (s *SQLiteStorage) prepare(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to reach ledger: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
