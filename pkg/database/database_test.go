package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB opens a temp-file SQLite database with the production DSN
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	config := DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", config.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func migratedTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db, "").ApplyMigrations())
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.Equal(t, "./data/geoattend.db", config.DatabasePath)
	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, config.ConnMaxIdleTime)
	assert.Empty(t, config.MigrationsPath, "default should use embedded migrations")
	assert.NoError(t, config.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"negative idle time", func(c *Config) { c.ConnMaxIdleTime = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	config := &Config{DatabasePath: "/tmp/x.db"}
	dsn := config.DSN()

	assert.Contains(t, dsn, "/tmp/x.db?")
	assert.Contains(t, dsn, "_foreign_keys=on")
	assert.Contains(t, dsn, "_busy_timeout=5000")
}

func TestMigrationManager_ApplyEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	manager := NewMigrationManager(db, "")

	require.NoError(t, manager.ApplyMigrations())
	require.NoError(t, manager.ValidateSchema())

	// re-applying is a no-op
	require.NoError(t, manager.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrationManager_DirectorySource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_second.sql"),
		[]byte("CREATE TABLE second (id TEXT PRIMARY KEY);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_first.sql"),
		[]byte("CREATE TABLE first (id TEXT PRIMARY KEY);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	db := openTestDB(t)
	manager := NewMigrationManager(db, dir)

	migrations, err := manager.loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Description)
	assert.Equal(t, "002", migrations[1].Version)

	require.NoError(t, manager.ApplyMigrations())

	var versions []string
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	assert.Equal(t, []string{"001", "002"}, versions)
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_broken.sql"),
		[]byte("CREATE TABLE ok (id TEXT); THIS IS NOT SQL;"), 0o644))

	db := openTestDB(t)
	manager := NewMigrationManager(db, dir)

	require.Error(t, manager.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Zero(t, count)
}

func TestMigrationManager_MissingDirectory(t *testing.T) {
	db := openTestDB(t)
	manager := NewMigrationManager(db, filepath.Join(t.TempDir(), "nope"))

	assert.Error(t, manager.ApplyMigrations())
}

func TestDatabase_SQLiteOptimizations(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, ApplySQLiteOptimizations(db))

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}
