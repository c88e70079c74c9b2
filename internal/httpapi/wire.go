// Package httpapi exposes a pdm.Server over JSON/HTTP. The wire types and
// error codes here are shared with the client in internal/remote.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"cadvault/internal/pdm"
)

// Identity headers carried by every request.
const (
	HeaderUser   = "X-CV-User"
	HeaderDevice = "X-CV-Device"
	HeaderRole   = "X-CV-Role"
	// HeaderRecord carries the base64url JSON record alongside streamed
	// content.
	HeaderRecord = "X-CV-Record"
)

// API paths.
const (
	PathRecords      = "/api/v1/records"
	PathRecordByID   = "/api/v1/records/id/:id"
	PathRecord       = "/api/v1/record"
	PathCheckout     = "/api/v1/checkout"
	PathCheckin      = "/api/v1/checkin"
	PathRelease      = "/api/v1/release"
	PathForceRelease = "/api/v1/force-release"
	PathContent      = "/api/v1/content"
	PathMove         = "/api/v1/move"
	PathHistory      = "/api/v1/history"
	PathHealth       = "/healthz"
)

// Error codes.
const (
	CodeInvalidRequest   = "E_INVALID_REQUEST"
	CodeNotFound         = "E_NOT_FOUND"
	CodeLockConflict     = "E_LOCK_CONFLICT"
	CodeNotLockHolder    = "E_NOT_LOCK_HOLDER"
	CodeAlreadyExists    = "E_ALREADY_EXISTS"
	CodePermissionDenied = "E_PERMISSION_DENIED"
	CodeHashMismatch     = "E_HASH_MISMATCH"
	CodeInternalError    = "E_INTERNAL_ERROR"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string          `json:"code"`
	Message string          `json:"error"`
	Path    string          `json:"path,omitempty"`
	Holder  *pdm.LockHolder `json:"holder,omitempty"`
	Role    pdm.Role        `json:"role,omitempty"`
	Op      string          `json:"op,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// MoveRequest is the body of a move.
type MoveRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// EncodeRecord packs a record for HeaderRecord.
func EncodeRecord(rec *pdm.ServerFileRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeRecord unpacks HeaderRecord.
func DecodeRecord(s string) (*pdm.ServerFileRecord, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding record header: %w", err)
	}
	var rec pdm.ServerFileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record header: %w", err)
	}
	return &rec, nil
}
