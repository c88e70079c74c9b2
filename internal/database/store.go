package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"cadvault/internal/pdm"
)

const recordColumns = `id, org_id, relative_path, version, revision, content_hash, size,
	workflow_state, checked_out_by, checked_out_by_device, checked_out_at,
	deleted, updated_at, updated_by, comment`

// Store persists server file records and their check-in history for one
// organization.
type Store struct {
	db    *sqlx.DB
	orgID string
}

// NewStore wraps an open, migrated connection.
func NewStore(db *sqlx.DB, orgID string) *Store {
	return &Store{db: db, orgID: orgID}
}

// OrgID returns the organization the store is scoped to.
func (s *Store) OrgID() string { return s.orgID }

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a write transaction. The transaction commits if fn
// returns nil and rolls back otherwise. Transactions are serialized, so a
// read-check-write inside fn is atomic.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, false, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, ctx: ctx, orgID: s.orgID}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Tx is a transaction over the record tables.
type Tx struct {
	tx    *sqlx.Tx
	ctx   context.Context
	orgID string
}

// ByPath returns the record at path, tombstones included, or nil.
func (t *Tx) ByPath(path string) (*pdm.ServerFileRecord, error) {
	var rec pdm.ServerFileRecord
	err := t.tx.GetContext(t.ctx, &rec,
		`SELECT `+recordColumns+` FROM records WHERE org_id = ? AND relative_path = ?`,
		t.orgID, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding record by path %s: %w", path, err)
	}
	return &rec, nil
}

// ByID returns the record with id, tombstones included, or nil.
func (t *Tx) ByID(id string) (*pdm.ServerFileRecord, error) {
	var rec pdm.ServerFileRecord
	err := t.tx.GetContext(t.ctx, &rec,
		`SELECT `+recordColumns+` FROM records WHERE org_id = ? AND id = ?`,
		t.orgID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns live records at or beneath prefix, sorted by path. An
// empty prefix lists everything.
func (t *Tx) List(prefix string) ([]*pdm.ServerFileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE org_id = ? AND deleted = 0`
	args := []any{t.orgID}
	if prefix != "" {
		// substr keeps the match case-sensitive, unlike LIKE.
		query += ` AND (relative_path = ? OR substr(relative_path, 1, length(?)) = ?)`
		args = append(args, prefix, prefix+"/", prefix+"/")
	}
	query += ` ORDER BY relative_path`

	var recs []*pdm.ServerFileRecord
	if err := t.tx.SelectContext(t.ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("listing records under %q: %w", prefix, err)
	}
	return recs, nil
}

// Put inserts rec or replaces the row with the same id.
func (t *Tx) Put(rec *pdm.ServerFileRecord) error {
	row := *rec
	row.OrgID = t.orgID
	_, err := t.tx.NamedExecContext(t.ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (:id, :org_id, :relative_path, :version, :revision, :content_hash, :size,
			:workflow_state, :checked_out_by, :checked_out_by_device, :checked_out_at,
			:deleted, :updated_at, :updated_by, :comment)
		ON CONFLICT(id) DO UPDATE SET
			relative_path = excluded.relative_path,
			version = excluded.version,
			revision = excluded.revision,
			content_hash = excluded.content_hash,
			size = excluded.size,
			workflow_state = excluded.workflow_state,
			checked_out_by = excluded.checked_out_by,
			checked_out_by_device = excluded.checked_out_by_device,
			checked_out_at = excluded.checked_out_at,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by,
			comment = excluded.comment`, &row)
	if err != nil {
		return fmt.Errorf("storing record %s: %w", rec.RelativePath, err)
	}
	return nil
}

// Purge removes a record and its history for good.
func (t *Tx) Purge(id string) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM records WHERE org_id = ? AND id = ?`, t.orgID, id); err != nil {
		return fmt.Errorf("purging record %s: %w", id, err)
	}
	return nil
}

// AddRevision appends a history entry for recordID.
func (t *Tx) AddRevision(recordID string, rev *pdm.Revision) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO revisions (record_id, version, revision, content_hash, size, comment, checked_in_by, checked_in_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recordID, rev.Version, rev.Revision, rev.ContentHash, rev.Size, rev.Comment, rev.CheckedInBy, rev.CheckedInAt)
	if err != nil {
		return fmt.Errorf("adding revision %d: %w", rev.Version, err)
	}
	return nil
}

// Revisions returns the history of recordID, newest first.
func (t *Tx) Revisions(recordID string) ([]*pdm.Revision, error) {
	var revs []*pdm.Revision
	err := t.tx.SelectContext(t.ctx, &revs, `
		SELECT version, revision, content_hash, size, comment, checked_in_by, checked_in_at
		FROM revisions WHERE record_id = ? ORDER BY version DESC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing revisions: %w", err)
	}
	return revs, nil
}
