package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"cadvault/internal/database/migrations"
)

const driverName = "sqlite3"

// connectionPragmas are applied to every connection we open.
const connectionPragmas = `
PRAGMA foreign_keys = ON;
PRAGMA busy_timeout = 5000;
PRAGMA temp_store = MEMORY;
`

// OpenConnection opens and configures a SQLite database with appropriate
// PRAGMAs. path can be a file path or ":memory:". The pool is limited to
// one connection: a :memory: database exists per connection, and for files
// it serializes every transaction, which the record store relies on for
// its compare-and-set.
func OpenConnection(path string) (*sqlx.DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(connectionPragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	return db, nil
}

// OpenStore opens the server database at path, migrates it to the latest
// schema and returns a Store scoped to orgID.
func OpenStore(path, orgID string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s, err := OpenStoreOn(db, orgID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return s, nil
}

// OpenStoreOn migrates an already open connection and returns a Store
// scoped to orgID.
func OpenStoreOn(db *sqlx.DB, orgID string) (*Store, error) {
	if err := migrations.MigrateUp(db.DB); err != nil {
		return nil, err
	}
	if err := migrations.CheckDBMigrationStatus(db.DB); err != nil {
		return nil, err
	}
	return NewStore(db, orgID), nil
}
