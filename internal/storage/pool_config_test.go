package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "trados_tasks.db", cfg.Path)
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxIdleTime)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.Path = "" }},
		{"zero max open", func(c *Config) { c.MaxOpenConns = 0 }},
		{"negative idle", func(c *Config) { c.MaxIdleConns = -1 }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = c.MaxOpenConns + 1 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"idle time above lifetime", func(c *Config) { c.ConnMaxIdleTime = 2 * c.ConnMaxLifetime }},
		{"zero busy timeout", func(c *Config) { c.BusyTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = ""
	cfg.BusyTimeout = 0

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "path is empty")
	assert.Contains(t, err.Error(), "busy_timeout must be positive")
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/var/lib/trados/ledger.db"
	assert.Equal(t, "/var/lib/trados/ledger.db?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", cfg.dsn())

	cfg.Path = MemoryPath
	assert.Equal(t, "file::memory:?_busy_timeout=5000", cfg.dsn())
}

func TestOpenDatabase_InMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = MemoryPath
	ctx := context.Background()

	storage, err := OpenDatabase(ctx, cfg)
	require.NoError(t, err)
	defer storage.Close()

	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, storage.Record(ctx, "cred-a", at))
	stamps, err := storage.Since(ctx, "cred-a", at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, stamps, 1, "migrations and queries share the single in-memory connection")
}

func TestOpenDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "ledger.db")

	storage, err := OpenDatabase(context.Background(), cfg)
	require.NoError(t, err)
	defer storage.Close()

	ctx := context.Background()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, storage.Record(ctx, "cred-a", at))

	stamps, err := storage.Since(ctx, "cred-a", at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at}, stamps)
}

func TestOpenDatabase_SurvivesReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	storage, err := OpenDatabase(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, storage.Record(ctx, "cred-a", at))
	require.NoError(t, storage.Close())

	storage, err = OpenDatabase(ctx, cfg)
	require.NoError(t, err)
	defer storage.Close()

	stamps, err := storage.Since(ctx, "cred-a", at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, stamps, 1)
}

func TestOpenDatabase_InvalidPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = "/nonexistent/directory/test.db"

	_, err := OpenDatabase(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenDatabase_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOpenConns = 0

	_, err := OpenDatabase(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
