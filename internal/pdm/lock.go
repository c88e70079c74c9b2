package pdm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LockToken describes a lock the session holds.
type LockToken struct {
	Path       string
	Holder     LockHolder
	Version    int64
	AcquiredAt time.Time
}

// LockManager is a thin client over the server's compare-and-set lock.
// It updates the file table optimistically and settles the proposal with
// the server's answer. It never retries: lock conflicts and permission
// failures are terminal, network failures are returned to the caller.
type LockManager struct {
	server  Server
	fsmgr   FilesystemManager
	journal Journal
	table   *FileTable
	session Session
	clock   Clock
	logger  Logger
}

// NewLockManager creates a LockManager acting as session.
func NewLockManager(server Server, fsmgr FilesystemManager, journal Journal, table *FileTable, session Session, clock Clock, logger Logger) *LockManager {
	return &LockManager{
		server:  server,
		fsmgr:   fsmgr,
		journal: journal,
		table:   table,
		session: session,
		clock:   clock,
		logger:  logger,
	}
}

// Checkout takes the lock on path for userID on deviceID. When the same
// user already holds it from another device the result is a
// *DeviceMismatch warning and nothing changes; TakeOver proceeds after the
// user has acknowledged it.
func (m *LockManager) Checkout(ctx context.Context, path, userID, deviceID string) (*LockToken, error) {
	return m.checkout(ctx, path, LockHolder{UserID: userID, DeviceID: deviceID}, false)
}

// TakeOver checks out path for the session, moving the user's own lock
// from another device if necessary. Locks held by other users still fail.
func (m *LockManager) TakeOver(ctx context.Context, path string) (*LockToken, error) {
	return m.checkout(ctx, path, m.session.Holder(), true)
}

func (m *LockManager) checkout(ctx context.Context, path string, holder LockHolder, allowOtherDevice bool) (*LockToken, error) {
	tk := m.table.Issue(path)
	v := m.table.ProposeLock(path, holder)

	rec, err := m.server.Checkout(ctx, CheckoutRequest{Path: path, Holder: holder, AllowOtherDevice: allowOtherDevice})
	if err != nil {
		m.table.RejectLock(path, v)
		var lc *LockConflict
		if errors.As(err, &lc) {
			m.table.Apply(tk, func(r *FileRecord) {
				if r.Server != nil {
					r.Server.CheckedOutBy = lc.Holder.UserID
					r.Server.CheckedOutByDevice = lc.Holder.DeviceID
				}
			})
			if lc.Holder.UserID == holder.UserID && lc.Holder.DeviceID != holder.DeviceID {
				return nil, &DeviceMismatch{Path: path, UserID: holder.UserID, LockDevice: lc.Holder.DeviceID, SessionDevice: holder.DeviceID}
			}
		}
		return nil, fmt.Errorf("checking out %s: %w", path, err)
	}

	m.table.ConfirmLock(tk, v, rec)
	m.logger.Info("checked out", "path", path, "version", rec.Version)
	return &LockToken{Path: path, Holder: rec.Holder(), Version: rec.Version, AcquiredAt: rec.CheckedOutAt}, nil
}

// Checkin uploads the local bytes of path, which the session must hold
// (new files need no lock). The server bumps the version and clears the
// lock atomically. It returns the new version.
func (m *LockManager) Checkin(ctx context.Context, path, comment string) (int64, error) {
	return m.checkin(ctx, path, comment, false)
}

// CheckinKeepLock is Checkin that leaves the file checked out.
func (m *LockManager) CheckinKeepLock(ctx context.Context, path, comment string) (int64, error) {
	return m.checkin(ctx, path, comment, true)
}

func (m *LockManager) checkin(ctx context.Context, path, comment string, keepLock bool) (int64, error) {
	if err := m.CheckDevice(path); err != nil {
		return 0, err
	}

	local, err := m.fsmgr.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if local == nil || local.IsDir {
		return 0, fmt.Errorf("checking in %s: no local file", path)
	}

	f, err := m.fsmgr.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	tk := m.table.Issue(path)
	next := LockHolder{}
	if keepLock {
		next = m.session.Holder()
	}
	v := m.table.ProposeLock(path, next)

	rec, err := m.server.Checkin(ctx, CheckinRequest{
		Path:        path,
		Holder:      m.session.Holder(),
		ContentHash: local.ContentHash,
		Size:        local.Size,
		Comment:     comment,
		KeepLock:    keepLock,
	}, f)
	if err != nil {
		m.table.RejectLock(path, v)
		return 0, fmt.Errorf("checking in %s: %w", path, err)
	}

	m.table.ConfirmLock(tk, v, rec)
	if err := m.recordBaseline(rec, local); err != nil {
		return rec.Version, err
	}
	m.logger.Info("checked in", "path", path, "version", rec.Version, "hash", rec.ContentHash)
	return rec.Version, nil
}

// ForceRelease clears whoever holds the lock on path. Only admins may do
// this; the server enforces the same rule.
func (m *LockManager) ForceRelease(ctx context.Context, path string, requestorRole Role) error {
	if requestorRole != RoleAdmin {
		return &PermissionDenied{Op: "force-release", Role: requestorRole}
	}

	tk := m.table.Issue(path)
	v := m.table.ProposeLock(path, LockHolder{})
	rec, err := m.server.ForceRelease(ctx, path, Requestor{UserID: m.session.UserID, DeviceID: m.session.DeviceID, Role: requestorRole})
	if err != nil {
		m.table.RejectLock(path, v)
		return fmt.Errorf("force releasing %s: %w", path, err)
	}
	m.table.ConfirmLock(tk, v, rec)
	m.logger.Warn("force released lock", "path", path, "by", m.session.UserID)
	return nil
}

// Release gives up the session's own lock without checking in.
func (m *LockManager) Release(ctx context.Context, path string) error {
	tk := m.table.Issue(path)
	v := m.table.ProposeLock(path, LockHolder{})
	rec, err := m.server.Release(ctx, path, m.session.Holder())
	if err != nil {
		m.table.RejectLock(path, v)
		return fmt.Errorf("releasing %s: %w", path, err)
	}
	m.table.ConfirmLock(tk, v, rec)
	m.logger.Info("released lock", "path", path)
	return nil
}

// CheckDevice returns a *DeviceMismatch if the table shows path held by
// the session's user from another device.
func (m *LockManager) CheckDevice(path string) error {
	rec := m.table.Get(path)
	if rec == nil {
		return nil
	}
	h := rec.LockHolder()
	if h.UserID == m.session.UserID && h.DeviceID != m.session.DeviceID {
		return &DeviceMismatch{Path: path, UserID: h.UserID, LockDevice: h.DeviceID, SessionDevice: m.session.DeviceID}
	}
	return nil
}

// HoldsLock reports whether the session holds path according to the table.
func (m *LockManager) HoldsLock(path string) bool {
	rec := m.table.Get(path)
	return rec != nil && rec.LockHolder() == m.session.Holder()
}

func (m *LockManager) recordBaseline(rec *ServerFileRecord, local *LocalFile) error {
	b := &Baseline{
		RelativePath: rec.RelativePath,
		ServerID:     rec.ID,
		Version:      rec.Version,
		ContentHash:  rec.ContentHash,
		SyncedAt:     m.clock.Now(),
	}
	if err := m.journal.Set(b); err != nil {
		return fmt.Errorf("recording baseline for %s: %w", rec.RelativePath, err)
	}
	m.table.Update(rec.RelativePath, func(r *FileRecord) {
		r.Baseline = b
		if local != nil {
			r.Local = local
		}
	})
	return nil
}
