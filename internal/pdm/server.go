package pdm

import (
	"context"
	"io"
)

// CheckoutRequest asks the server to take the lock on a path.
type CheckoutRequest struct {
	Path     string     `json:"path"`
	Holder   LockHolder `json:"holder"`
	// AllowOtherDevice lets the same user take over their own lock from
	// another device. Set only after the user acknowledged the mismatch.
	AllowOtherDevice bool `json:"allow_other_device"`
}

// CheckinRequest uploads new content for a path the requester holds.
type CheckinRequest struct {
	Path        string     `json:"path"`
	Holder      LockHolder `json:"holder"`
	ContentHash string     `json:"content_hash"`
	Size        int64      `json:"size"`
	Comment     string     `json:"comment"`
	// KeepLock leaves the checkout in place after the new version lands.
	KeepLock bool `json:"keep_lock"`
}

// Requestor identifies the caller of an administrative or destructive
// operation.
type Requestor struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	Role     Role   `json:"role"`
}

// Server is the authoritative vault the client reconciles against. The
// lock compare-and-set happens inside the server; implementations must
// make Checkout atomic per path.
//
// Errors: ErrNotFound for missing or deleted paths, *LockConflict when a
// lock check fails, *PermissionDenied for role checks, ErrNotLockHolder
// when a holder-only operation is attempted by someone else, and
// *NetworkError for transport failures.
type Server interface {
	// GetRecord returns the live record at path.
	GetRecord(ctx context.Context, path string) (*ServerFileRecord, error)

	// GetRecordByID returns the live record with the given id, wherever it
	// currently lives.
	GetRecordByID(ctx context.Context, id string) (*ServerFileRecord, error)

	// ListRecords returns live records whose path lies within prefix
	// ("" lists everything), sorted by path.
	ListRecords(ctx context.Context, prefix string) ([]*ServerFileRecord, error)

	// Checkout atomically sets the lock if the path is unlocked. Checking
	// out a path already held by the same holder succeeds unchanged.
	Checkout(ctx context.Context, req CheckoutRequest) (*ServerFileRecord, error)

	// Checkin stores content, bumps the version and, unless KeepLock is
	// set, clears the lock in the same atomic step. A path with no record
	// is created at version 1 without needing a prior checkout.
	Checkin(ctx context.Context, req CheckinRequest, content io.Reader) (*ServerFileRecord, error)

	// Release clears the caller's own lock without a new version.
	Release(ctx context.Context, path string, holder LockHolder) (*ServerFileRecord, error)

	// ForceRelease clears anyone's lock. Admin only.
	ForceRelease(ctx context.Context, path string, by Requestor) (*ServerFileRecord, error)

	// Download writes the current content of path to w.
	Download(ctx context.Context, path string, w io.Writer) (*ServerFileRecord, error)

	// Delete tombstones path. Fails with *LockConflict if someone else
	// holds it.
	Delete(ctx context.Context, path string, by Requestor) error

	// Move renames a record, keeping its id and history.
	Move(ctx context.Context, from, to string, by Requestor) (*ServerFileRecord, error)

	// History returns the check-in history of path, newest first.
	History(ctx context.Context, path string) ([]*Revision, error)
}
