package pdm

import (
	"fmt"
	"maps"
	"time"
)

// Role is the requesting user's role within the organization.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a configured role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleMember, RoleAdmin:
		return Role(s), nil
	case "":
		return RoleMember, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Session is the identity every client request is made under.
type Session struct {
	OrgID      string
	UserID     string
	DeviceID   string
	DeviceName string
	Role       Role
}

// Holder returns the lock identity of this session.
func (s Session) Holder() LockHolder {
	return LockHolder{UserID: s.UserID, DeviceID: s.DeviceID}
}

// LocalFile holds the on-disk facts for a vault path.
type LocalFile struct {
	RelativePath string
	IsDir        bool
	Size         int64
	ModTime      time.Time
	ContentHash  string
}

// ServerFileRecord is the authoritative server-side state of a file.
type ServerFileRecord struct {
	ID                 string    `json:"id" db:"id"`
	OrgID              string    `json:"org_id" db:"org_id"`
	RelativePath       string    `json:"relative_path" db:"relative_path"`
	Version            int64     `json:"version" db:"version"`
	Revision           string    `json:"revision" db:"revision"`
	ContentHash        string    `json:"content_hash" db:"content_hash"`
	Size               int64     `json:"size" db:"size"`
	WorkflowState      string    `json:"workflow_state" db:"workflow_state"`
	CheckedOutBy       string    `json:"checked_out_by,omitempty" db:"checked_out_by"`
	CheckedOutByDevice string    `json:"checked_out_by_device,omitempty" db:"checked_out_by_device"`
	CheckedOutAt       time.Time `json:"checked_out_at" db:"checked_out_at"`
	Deleted            bool      `json:"deleted" db:"deleted"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
	UpdatedBy          string    `json:"updated_by" db:"updated_by"`
	Comment            string    `json:"comment" db:"comment"`
}

// Holder returns the current lock holder, zero when unlocked.
func (r *ServerFileRecord) Holder() LockHolder {
	return LockHolder{UserID: r.CheckedOutBy, DeviceID: r.CheckedOutByDevice}
}

// Clone returns a copy safe to hand out of a lock.
func (r *ServerFileRecord) Clone() *ServerFileRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Revision is one entry in a file's check-in history.
type Revision struct {
	Version     int64     `json:"version" db:"version"`
	Revision    string    `json:"revision" db:"revision"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Size        int64     `json:"size" db:"size"`
	Comment     string    `json:"comment" db:"comment"`
	CheckedInBy string    `json:"checked_in_by" db:"checked_in_by"`
	CheckedInAt time.Time `json:"checked_in_at" db:"checked_in_at"`
}

// RevisionLabel converts a 1-based version into a drawing revision letter
// sequence: 1 -> A, 26 -> Z, 27 -> AA.
func RevisionLabel(version int64) string {
	if version <= 0 {
		return ""
	}
	var buf []byte
	for n := version; n > 0; n = (n - 1) / 26 {
		buf = append([]byte{byte('A' + (n-1)%26)}, buf...)
	}
	return string(buf)
}

// Baseline is the journal entry written when a path was last pulled or
// checked in. It supplies the local known version and baseline hash.
type Baseline struct {
	RelativePath string    `json:"relative_path" db:"relative_path"`
	ServerID     string    `json:"server_id" db:"server_id"`
	Version      int64     `json:"version" db:"version"`
	ContentHash  string    `json:"content_hash" db:"content_hash"`
	SyncedAt     time.Time `json:"synced_at" db:"synced_at"`
}

// StagedCheckin is a check-in captured while the server was unreachable.
type StagedCheckin struct {
	RelativePath          string    `json:"relative_path"`
	Comment               string    `json:"comment"`
	BaselineServerVersion int64     `json:"baseline_server_version"`
	QueuedAt              time.Time `json:"queued_at"`
}

// FileRecord is one row of the file table.
type FileRecord struct {
	RelativePath      string
	IsDirectory       bool
	Local             *LocalFile
	Server            *ServerFileRecord
	Baseline          *Baseline
	PendingLocalEdits map[string]string
	MovedTo           string
	Ignored           bool

	lock   Optimistic[LockHolder]
	status DiffStatus
}

// Status is derived by the classifier whenever the record's facts change.
func (r *FileRecord) Status() DiffStatus { return r.status }

// LockHolder is the effective lock holder, including an unconfirmed
// optimistic change.
func (r *FileRecord) LockHolder() LockHolder { return r.lock.Value() }

// LockPending reports whether a lock change awaits server confirmation.
func (r *FileRecord) LockPending() bool { return r.lock.Pending() }

// IsCheckedOutBy reports whether user holds the effective lock.
func (r *FileRecord) IsCheckedOutBy(userID string) bool {
	return r.LockHolder().UserID == userID && userID != ""
}

func (r *FileRecord) reclassify() {
	if r.IsDirectory {
		r.status = StatusSynced
		return
	}
	r.status = Classify(BuildClassifyInput(r))
}

func (r *FileRecord) clone() *FileRecord {
	c := *r
	if r.Local != nil {
		l := *r.Local
		c.Local = &l
	}
	c.Server = r.Server.Clone()
	if r.Baseline != nil {
		b := *r.Baseline
		c.Baseline = &b
	}
	c.PendingLocalEdits = maps.Clone(r.PendingLocalEdits)
	c.lock = r.lock.clone()
	return &c
}
