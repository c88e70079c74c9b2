package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cadvault/internal/database"
	"cadvault/internal/pdm"
	"cadvault/internal/vault"
)

// Server is the authoritative vault: records and history in a
// database.Store, content in a vault.Vault. Every state change runs in one
// store transaction, which is what makes checkout a compare-and-set.
type Server struct {
	store  *database.Store
	vault  vault.Vault
	admins map[string]bool
	clock  pdm.Clock
	ids    pdm.IDGenerator
	logger pdm.Logger
}

var _ pdm.Server = (*Server)(nil)

// New creates a Server. admins lists the user ids allowed to force-release
// locks; when it is empty the role the requestor declares is trusted.
func New(store *database.Store, v vault.Vault, admins []string, clock pdm.Clock, ids pdm.IDGenerator, logger pdm.Logger) *Server {
	set := make(map[string]bool, len(admins))
	for _, a := range admins {
		set[a] = true
	}
	return &Server{store: store, vault: v, admins: set, clock: clock, ids: ids, logger: logger}
}

// Close closes the record store.
func (s *Server) Close() error {
	return s.store.Close()
}

var timeZero time.Time

func clearLock(rec *pdm.ServerFileRecord) {
	rec.CheckedOutBy = ""
	rec.CheckedOutByDevice = ""
	rec.CheckedOutAt = timeZero
}

func notFound(path string) error {
	return fmt.Errorf("%w: %s", pdm.ErrNotFound, path)
}

func (s *Server) isAdmin(by pdm.Requestor) bool {
	if len(s.admins) == 0 {
		return by.Role == pdm.RoleAdmin
	}
	return s.admins[by.UserID]
}

// live returns the record at path, or ErrNotFound for missing and
// tombstoned paths.
func live(tx *database.Tx, path string) (*pdm.ServerFileRecord, error) {
	rec, err := tx.ByPath(path)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted {
		return nil, notFound(path)
	}
	return rec, nil
}

func (s *Server) GetRecord(ctx context.Context, path string) (*pdm.ServerFileRecord, error) {
	p, err := pdm.NormalizePath(path)
	if err != nil {
		return nil, err
	}
	var out *pdm.ServerFileRecord
	err = s.store.View(ctx, func(tx *database.Tx) error {
		out, err = live(tx, p)
		return err
	})
	return out, err
}

func (s *Server) GetRecordByID(ctx context.Context, id string) (*pdm.ServerFileRecord, error) {
	var out *pdm.ServerFileRecord
	err := s.store.View(ctx, func(tx *database.Tx) error {
		rec, err := tx.ByID(id)
		if err != nil {
			return err
		}
		if rec == nil || rec.Deleted {
			return fmt.Errorf("%w: record %s", pdm.ErrNotFound, id)
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *Server) ListRecords(ctx context.Context, prefix string) ([]*pdm.ServerFileRecord, error) {
	p, err := pdm.NormalizePath(prefix)
	if err != nil {
		return nil, err
	}
	var out []*pdm.ServerFileRecord
	err = s.store.View(ctx, func(tx *database.Tx) error {
		out, err = tx.List(p)
		return err
	})
	return out, err
}

// Checkout sets the lock if nobody holds it. The same holder checking out
// again is a no-op. The same user on another device gets a LockConflict
// naming their other device unless AllowOtherDevice is set.
func (s *Server) Checkout(ctx context.Context, req pdm.CheckoutRequest) (*pdm.ServerFileRecord, error) {
	p, err := pdm.NormalizePath(req.Path)
	if err != nil {
		return nil, err
	}
	if req.Holder.IsZero() {
		return nil, fmt.Errorf("checkout of %s without a holder", p)
	}

	var out *pdm.ServerFileRecord
	err = s.store.Update(ctx, func(tx *database.Tx) error {
		rec, err := live(tx, p)
		if err != nil {
			return err
		}

		current := rec.Holder()
		switch {
		case current == req.Holder:
			out = rec
			return nil
		case current.IsZero():
		case current.UserID == req.Holder.UserID && req.AllowOtherDevice:
			s.logger.Info("lock moved between devices", "path", p, "user", current.UserID, "from", current.DeviceID, "to", req.Holder.DeviceID)
		default:
			return &pdm.LockConflict{Path: p, Holder: current}
		}

		rec.CheckedOutBy = req.Holder.UserID
		rec.CheckedOutByDevice = req.Holder.DeviceID
		rec.CheckedOutAt = s.clock.Now().UTC()
		if err := tx.Put(rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("checkout", "path", p, "holder", req.Holder.String())
	return out, nil
}

// checkinAllowed reports whether holder may write a new version of rec.
// A missing or tombstoned record may be created by anyone.
func checkinAllowed(rec *pdm.ServerFileRecord, holder pdm.LockHolder, path string) error {
	if rec == nil || rec.Deleted {
		return nil
	}
	current := rec.Holder()
	if current == holder {
		return nil
	}
	if current.IsZero() {
		return fmt.Errorf("%w: %s is not checked out", pdm.ErrNotLockHolder, path)
	}
	return &pdm.LockConflict{Path: path, Holder: current}
}

// Checkin verifies and stores the content, then bumps the version and
// settles the lock in one transaction. The lock is checked before the
// upload so a doomed check-in fails fast, and again when committing.
func (s *Server) Checkin(ctx context.Context, req pdm.CheckinRequest, content io.Reader) (*pdm.ServerFileRecord, error) {
	p, err := pdm.NormalizePath(req.Path)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, fmt.Errorf("cannot check in the vault root")
	}

	err = s.store.View(ctx, func(tx *database.Tx) error {
		rec, err := tx.ByPath(p)
		if err != nil {
			return err
		}
		return checkinAllowed(rec, req.Holder, p)
	})
	if err != nil {
		return nil, err
	}

	if err := s.storeContent(ctx, req, content); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	var out *pdm.ServerFileRecord
	err = s.store.Update(ctx, func(tx *database.Tx) error {
		rec, err := tx.ByPath(p)
		if err != nil {
			return err
		}
		if err := checkinAllowed(rec, req.Holder, p); err != nil {
			return err
		}

		if rec == nil {
			rec = &pdm.ServerFileRecord{ID: s.ids.New(), RelativePath: p}
		}
		// A tombstone is revived in place so its history carries on.
		rec.Deleted = false
		rec.Version++
		rec.Revision = pdm.RevisionLabel(rec.Version)
		rec.ContentHash = req.ContentHash
		rec.Size = req.Size
		rec.Comment = req.Comment
		rec.UpdatedAt = now
		rec.UpdatedBy = req.Holder.UserID
		if req.KeepLock {
			rec.CheckedOutBy = req.Holder.UserID
			rec.CheckedOutByDevice = req.Holder.DeviceID
			if rec.CheckedOutAt.IsZero() {
				rec.CheckedOutAt = now
			}
		} else {
			clearLock(rec)
		}

		if err := tx.Put(rec); err != nil {
			return err
		}
		if err := tx.AddRevision(rec.ID, &pdm.Revision{
			Version:     rec.Version,
			Revision:    rec.Revision,
			ContentHash: rec.ContentHash,
			Size:        rec.Size,
			Comment:     req.Comment,
			CheckedInBy: req.Holder.UserID,
			CheckedInAt: now,
		}); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkin", "path", p, "version", out.Version, "by", req.Holder.String())
	return out, nil
}

// storeContent spools content to a temp file while hashing it and only
// hands it to the vault once size and hash match the request.
func (s *Server) storeContent(ctx context.Context, req pdm.CheckinRequest, content io.Reader) error {
	spool, err := os.CreateTemp("", "cv-checkin-*")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(spool, h), content)
	if err != nil {
		return fmt.Errorf("receiving content for %s: %w", req.Path, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != req.ContentHash || n != req.Size {
		return fmt.Errorf("%w: %s declared %s (%d bytes), received %s (%d bytes)",
			pdm.ErrHashMismatch, req.Path, req.ContentHash, req.Size, got, n)
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding spool file: %w", err)
	}
	if err := s.vault.PutContent(ctx, got, spool, n); err != nil {
		return fmt.Errorf("storing content for %s: %w", req.Path, err)
	}
	return nil
}

// Release clears the caller's own lock. Releasing an unlocked path is a
// no-op; any device of the holding user may release.
func (s *Server) Release(ctx context.Context, path string, holder pdm.LockHolder) (*pdm.ServerFileRecord, error) {
	p, err := pdm.NormalizePath(path)
	if err != nil {
		return nil, err
	}
	var out *pdm.ServerFileRecord
	err = s.store.Update(ctx, func(tx *database.Tx) error {
		rec, err := live(tx, p)
		if err != nil {
			return err
		}
		current := rec.Holder()
		if current.IsZero() {
			out = rec
			return nil
		}
		if current.UserID != holder.UserID {
			return fmt.Errorf("%w: %s is held by %s", pdm.ErrNotLockHolder, p, current)
		}
		clearLock(rec)
		if err := tx.Put(rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

// ForceRelease clears anyone's lock. Admin only.
func (s *Server) ForceRelease(ctx context.Context, path string, by pdm.Requestor) (*pdm.ServerFileRecord, error) {
	if !s.isAdmin(by) {
		return nil, &pdm.PermissionDenied{Op: "force-release", Role: by.Role}
	}
	p, err := pdm.NormalizePath(path)
	if err != nil {
		return nil, err
	}

	var out *pdm.ServerFileRecord
	var previous pdm.LockHolder
	err = s.store.Update(ctx, func(tx *database.Tx) error {
		rec, err := live(tx, p)
		if err != nil {
			return err
		}
		previous = rec.Holder()
		clearLock(rec)
		rec.UpdatedBy = by.UserID
		if err := tx.Put(rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("lock force-released", "path", p, "holder", previous.String(), "by", by.UserID)
	return out, nil
}

func (s *Server) Download(ctx context.Context, path string, w io.Writer) (*pdm.ServerFileRecord, error) {
	rec, err := s.GetRecord(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := s.vault.GetContent(ctx, rec.ContentHash, w); err != nil {
		if errors.Is(err, vault.ErrContentNotFound) {
			return nil, fmt.Errorf("content of %s v%d missing from vault: %w", rec.RelativePath, rec.Version, err)
		}
		return nil, err
	}
	return rec, nil
}

// Delete tombstones path, keeping its history. A lock held by another
// user blocks the delete.
func (s *Server) Delete(ctx context.Context, path string, by pdm.Requestor) error {
	p, err := pdm.NormalizePath(path)
	if err != nil {
		return err
	}
	err = s.store.Update(ctx, func(tx *database.Tx) error {
		rec, err := live(tx, p)
		if err != nil {
			return err
		}
		if h := rec.Holder(); !h.IsZero() && h.UserID != by.UserID {
			return &pdm.LockConflict{Path: p, Holder: h}
		}
		clearLock(rec)
		rec.Deleted = true
		rec.UpdatedAt = s.clock.Now().UTC()
		rec.UpdatedBy = by.UserID
		return tx.Put(rec)
	})
	if err != nil {
		return err
	}
	s.logger.Info("deleted", "path", p, "by", by.UserID)
	return nil
}

// Move renames a record, keeping its id, version and history. A tombstone
// at the destination is purged; a live record there is an error.
func (s *Server) Move(ctx context.Context, from, to string, by pdm.Requestor) (*pdm.ServerFileRecord, error) {
	src, err := pdm.NormalizePath(from)
	if err != nil {
		return nil, err
	}
	dst, err := pdm.NormalizePath(to)
	if err != nil {
		return nil, err
	}
	if dst == "" || src == dst {
		return nil, fmt.Errorf("invalid move destination %q", to)
	}

	var out *pdm.ServerFileRecord
	err = s.store.Update(ctx, func(tx *database.Tx) error {
		rec, err := live(tx, src)
		if err != nil {
			return err
		}
		if h := rec.Holder(); !h.IsZero() && h.UserID != by.UserID {
			return &pdm.LockConflict{Path: src, Holder: h}
		}

		existing, err := tx.ByPath(dst)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.Deleted {
				return fmt.Errorf("%w: %s", pdm.ErrAlreadyExists, dst)
			}
			if err := tx.Purge(existing.ID); err != nil {
				return err
			}
		}

		rec.RelativePath = dst
		rec.UpdatedAt = s.clock.Now().UTC()
		rec.UpdatedBy = by.UserID
		if err := tx.Put(rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("moved", "from", src, "to", dst, "by", by.UserID)
	return out, nil
}

// History returns the check-ins of path, newest first. Deleted files keep
// their history.
func (s *Server) History(ctx context.Context, path string) ([]*pdm.Revision, error) {
	p, err := pdm.NormalizePath(path)
	if err != nil {
		return nil, err
	}
	var out []*pdm.Revision
	err = s.store.View(ctx, func(tx *database.Tx) error {
		rec, err := tx.ByPath(p)
		if err != nil {
			return err
		}
		if rec == nil {
			return notFound(p)
		}
		out, err = tx.Revisions(rec.ID)
		return err
	})
	return out, err
}
