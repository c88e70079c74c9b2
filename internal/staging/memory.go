package staging

import (
	"slices"

	"cadvault/internal/pdm"
)

// memoryStore keeps the queue in a slice. Used for tests and for the
// "memory" staging type, where staged check-ins do not survive a restart.
type memoryStore struct {
	entries []pdm.StagedCheckin
}

func (m *memoryStore) View(fn func([]pdm.StagedCheckin) error) error {
	return fn(slices.Clone(m.entries))
}

func (m *memoryStore) Update(fn func([]pdm.StagedCheckin) ([]pdm.StagedCheckin, error)) error {
	next, err := fn(slices.Clone(m.entries))
	if err != nil {
		return err
	}
	m.entries = next
	return nil
}

// NewMemoryStagedQueue creates a queue that lives only in memory.
func NewMemoryStagedQueue(clock pdm.Clock) pdm.StagedQueue {
	return &stagedQueue{store: &memoryStore{}, clock: clock}
}
