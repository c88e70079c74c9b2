package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"cadvault/internal/database"
	"cadvault/internal/pdm"
)

const schema = `
CREATE TABLE IF NOT EXISTS baselines (
    relative_path TEXT PRIMARY KEY,
    server_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    synced_at TEXT NOT NULL -- RFC3339Nano
);

CREATE INDEX IF NOT EXISTS idx_baselines_server_id ON baselines(server_id);
`

// dbBaseline is the scanned row; time is stored as TEXT so the journal file
// stays readable with the sqlite3 shell.
type dbBaseline struct {
	RelativePath string `db:"relative_path"`
	ServerID     string `db:"server_id"`
	Version      int64  `db:"version"`
	ContentHash  string `db:"content_hash"`
	SyncedAt     string `db:"synced_at"`
}

func (d dbBaseline) toBaseline() (*pdm.Baseline, error) {
	at, err := time.Parse(time.RFC3339Nano, d.SyncedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing synced_at for %s: %w", d.RelativePath, err)
	}
	return &pdm.Baseline{
		RelativePath: d.RelativePath,
		ServerID:     d.ServerID,
		Version:      d.Version,
		ContentHash:  d.ContentHash,
		SyncedAt:     at,
	}, nil
}

// SQLiteJournal persists baselines in a SQLite database.
type SQLiteJournal struct {
	db     *sqlx.DB
	logger pdm.Logger
}

// JournalFile is the database file name inside the journal data dir.
const JournalFile = "journal.db"

// OpenSQLiteJournal opens (creating if needed) the journal at path, which
// may be ":memory:".
func OpenSQLiteJournal(path string, logger pdm.Logger) (*SQLiteJournal, error) {
	if logger == nil {
		logger = pdm.NewNopLogger()
	}
	db, err := database.OpenConnection(path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &SQLiteJournal{db: db, logger: logger}, nil
}

// OpenSQLiteJournalDir opens the journal file inside dir.
func OpenSQLiteJournalDir(dir string, logger pdm.Logger) (*SQLiteJournal, error) {
	return OpenSQLiteJournal(filepath.Join(dir, JournalFile), logger)
}

// Close closes the underlying database.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

func (s *SQLiteJournal) Get(relativePath string) (*pdm.Baseline, error) {
	var row dbBaseline
	err := s.db.Get(&row, `SELECT relative_path, server_id, version, content_hash, synced_at
		FROM baselines WHERE relative_path = ?`, relativePath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query baseline %s: %w", relativePath, err)
	}
	return row.toBaseline()
}

func (s *SQLiteJournal) Set(b *pdm.Baseline) error {
	if err := validate(b); err != nil {
		return err
	}
	row := dbBaseline{
		RelativePath: b.RelativePath,
		ServerID:     b.ServerID,
		Version:      b.Version,
		ContentHash:  b.ContentHash,
		SyncedAt:     b.SyncedAt.UTC().Format(time.RFC3339Nano),
	}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO baselines
		(relative_path, server_id, version, content_hash, synced_at)
		VALUES (:relative_path, :server_id, :version, :content_hash, :synced_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to set baseline %s: %w", b.RelativePath, err)
	}
	s.logger.Debug("journal set", "path", b.RelativePath, "version", b.Version)
	return nil
}

func (s *SQLiteJournal) Delete(relativePath string) error {
	if _, err := s.db.Exec(`DELETE FROM baselines WHERE relative_path = ?`, relativePath); err != nil {
		return fmt.Errorf("failed to delete baseline %s: %w", relativePath, err)
	}
	return nil
}

func (s *SQLiteJournal) All() ([]*pdm.Baseline, error) {
	var rows []dbBaseline
	err := s.db.Select(&rows, `SELECT relative_path, server_id, version, content_hash, synced_at
		FROM baselines ORDER BY relative_path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	out := make([]*pdm.Baseline, 0, len(rows))
	for _, row := range rows {
		b, err := row.toBaseline()
		if err != nil {
			s.logger.Error("skipping corrupt baseline", "path", row.RelativePath, "error", err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

var _ pdm.Journal = (*SQLiteJournal)(nil)
