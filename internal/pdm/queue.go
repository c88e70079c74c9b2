package pdm

// StagedQueue is the durable buffer of check-ins made while offline.
// Entries are keyed by path; at most one entry exists per path.
type StagedQueue interface {
	// Stage records a check-in. Staging a path that is already queued
	// replaces the earlier entry, which moves to the tail.
	Stage(relativePath, comment string, baselineVersion int64) error

	// DequeueAll returns every entry in FIFO order. It does not remove
	// them: an entry leaves the queue only through Remove, once a replay
	// or an explicit resolution has completed.
	DequeueAll() ([]StagedCheckin, error)

	// Get returns the entry for a path, or nil if none is queued.
	Get(relativePath string) (*StagedCheckin, error)

	// Remove deletes the entry for a path. Removing an absent path is a
	// no-op.
	Remove(relativePath string) error

	// Len returns the number of queued entries.
	Len() (int, error)
}

// Journal persists the per-path baseline written on every pull and
// check-in. Lookups for unknown paths return (nil, nil).
type Journal interface {
	Get(relativePath string) (*Baseline, error)
	Set(b *Baseline) error
	Delete(relativePath string) error
	All() ([]*Baseline, error)
}
