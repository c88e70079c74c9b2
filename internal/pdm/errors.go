package pdm

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match these through errors.Is so
// callers can branch on the category without a type assertion.
var (
	ErrLockConflict        = errors.New("lock conflict")
	ErrConflictDetected    = errors.New("conflict detected")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrNetwork             = errors.New("network error")
	ErrNotFound            = errors.New("not found")
	ErrDifferentDevice     = errors.New("checked out on a different device")
	ErrNotLockHolder       = errors.New("lock not held by requester")
	ErrAborted             = errors.New("command aborted")
	ErrConfirmationPending = errors.New("another confirmation is pending")
	ErrSyncInProgress      = errors.New("sync already in progress")
	ErrHashMismatch        = errors.New("content hash mismatch")
	ErrAlreadyExists       = errors.New("already exists")
)

// LockHolder identifies who holds a checkout.
type LockHolder struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// IsZero reports whether nobody holds the lock.
func (h LockHolder) IsZero() bool { return h.UserID == "" }

func (h LockHolder) String() string {
	if h.IsZero() {
		return "-"
	}
	if h.DeviceID == "" {
		return h.UserID
	}
	return h.UserID + "@" + h.DeviceID
}

// LockConflict is returned when a checkout loses the server-side
// compare-and-set because someone else holds the lock. Never retried.
type LockConflict struct {
	Path   string
	Holder LockHolder
}

func (e *LockConflict) Error() string {
	return fmt.Sprintf("%s is checked out by %s", e.Path, e.Holder)
}

func (e *LockConflict) Is(target error) bool { return target == ErrLockConflict }

// ConflictDetected is raised when a staged check-in's baseline is older
// than the current server version.
type ConflictDetected struct {
	Path            string
	BaselineVersion int64
	ServerVersion   int64
	ServerDeleted   bool
}

func (e *ConflictDetected) Error() string {
	if e.ServerDeleted {
		return fmt.Sprintf("%s was deleted on the server after version %d was pulled", e.Path, e.BaselineVersion)
	}
	return fmt.Sprintf("%s changed on the server (staged against v%d, server at v%d)", e.Path, e.BaselineVersion, e.ServerVersion)
}

func (e *ConflictDetected) Is(target error) bool { return target == ErrConflictDetected }

// PermissionDenied is returned for role-gated operations. Never retried.
type PermissionDenied struct {
	Op   string
	Role Role
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("%s requires admin role (have %q)", e.Op, e.Role)
}

func (e *PermissionDenied) Is(target error) bool { return target == ErrPermissionDenied }

// NetworkError wraps a transport failure. Retried only on the next poll.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network unavailable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// DeviceMismatch is a warning: the lock belongs to the current user but
// was taken on another device. The lock stays valid; the caller decides
// whether to continue.
type DeviceMismatch struct {
	Path          string
	UserID        string
	LockDevice    string
	SessionDevice string
}

func (e *DeviceMismatch) Error() string {
	return fmt.Sprintf("%s is checked out by %s on device %s (this device is %s)", e.Path, e.UserID, e.LockDevice, e.SessionDevice)
}

func (e *DeviceMismatch) Is(target error) bool { return target == ErrDifferentDevice }

// IsTerminal reports whether err must never be retried automatically.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrLockConflict) || errors.Is(err, ErrPermissionDenied)
}
