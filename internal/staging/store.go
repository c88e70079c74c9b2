package staging

import "cadvault/internal/pdm"

// stagingStore abstracts where the check-in queue is kept. Both methods
// hand the callback the entries in FIFO order. Update persists whatever
// slice the callback returns; an error from the callback leaves the store
// unchanged.
//
// Stores must be safe against other processes touching the same queue;
// in-process concurrency is managed by the caller (stagedQueue.mu).
type stagingStore interface {
	View(fn func(entries []pdm.StagedCheckin) error) error
	Update(fn func(entries []pdm.StagedCheckin) ([]pdm.StagedCheckin, error)) error
}
