package httpapi

import (
	"errors"
	"net/http"

	"cadvault/internal/pdm"
)

// toAPIError maps a domain error onto a status code and response body.
func toAPIError(err error) (int, *APIError) {
	body := &APIError{Message: err.Error()}

	var lc *pdm.LockConflict
	var pd *pdm.PermissionDenied
	switch {
	case errors.As(err, &lc):
		holder := lc.Holder
		body.Code, body.Path, body.Holder = CodeLockConflict, lc.Path, &holder
		return http.StatusConflict, body
	case errors.As(err, &pd):
		body.Code, body.Role, body.Op = CodePermissionDenied, pd.Role, pd.Op
		return http.StatusForbidden, body
	case errors.Is(err, pdm.ErrNotFound):
		body.Code = CodeNotFound
		return http.StatusNotFound, body
	case errors.Is(err, pdm.ErrNotLockHolder):
		body.Code = CodeNotLockHolder
		return http.StatusConflict, body
	case errors.Is(err, pdm.ErrAlreadyExists):
		body.Code = CodeAlreadyExists
		return http.StatusConflict, body
	case errors.Is(err, pdm.ErrHashMismatch):
		body.Code = CodeHashMismatch
		return http.StatusUnprocessableEntity, body
	}
	body.Code = CodeInternalError
	return http.StatusInternalServerError, body
}

// FromAPIError converts a decoded error body back into the domain error
// the server raised.
func FromAPIError(e *APIError) error {
	switch e.Code {
	case CodeLockConflict:
		lc := &pdm.LockConflict{Path: e.Path}
		if e.Holder != nil {
			lc.Holder = *e.Holder
		}
		return lc
	case CodePermissionDenied:
		return &pdm.PermissionDenied{Op: e.Op, Role: e.Role}
	case CodeNotFound:
		return wrap(pdm.ErrNotFound, e)
	case CodeNotLockHolder:
		return wrap(pdm.ErrNotLockHolder, e)
	case CodeAlreadyExists:
		return wrap(pdm.ErrAlreadyExists, e)
	case CodeHashMismatch:
		return wrap(pdm.ErrHashMismatch, e)
	}
	return e
}

type wrappedError struct {
	sentinel error
	api      *APIError
}

func (w *wrappedError) Error() string { return w.api.Message }
func (w *wrappedError) Unwrap() error { return w.sentinel }

func wrap(sentinel error, e *APIError) error {
	return &wrappedError{sentinel: sentinel, api: e}
}
