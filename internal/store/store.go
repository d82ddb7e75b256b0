// Package store persists flight records to the local SQLite database. The
// fact table is upserted by natural key, so rerunning the ETL against an
// unchanged remote dataset leaves the table unchanged.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/skymetrics/skymetrics/sql/migrations"
)

// DB wraps the SQLite connection.
type DB struct {
	handle *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the
// embedded migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	handle, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite supports a single writer.
	handle.SetMaxOpenConns(1)

	db := &DB{handle: handle}
	if err := db.migrate(); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.handle.Close()
}

// Handle returns the underlying database connection.
func (db *DB) Handle() *sql.DB {
	return db.handle
}

func (db *DB) migrate() error {
	src, err := iofs.New(migrations.FS, "fact_flights")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.handle, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
