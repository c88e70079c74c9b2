package staging

import (
	"fmt"
	"sync"

	"cadvault/internal/pdm"
)

// stagedQueue implements pdm.StagedQueue using a pluggable stagingStore
// for the storage mechanics. All shared queue logic lives here.
type stagedQueue struct {
	store stagingStore
	clock pdm.Clock
	mu    sync.Mutex
}

var _ pdm.StagedQueue = (*stagedQueue)(nil)

// Stage records a check-in. A path already in the queue is replaced and
// moves to the tail. The newer comment wins; the first baseline is kept.
func (s *stagedQueue) Stage(relativePath, comment string, baselineVersion int64) error {
	p, err := pdm.NormalizePath(relativePath)
	if err != nil {
		return err
	}
	if p == "" {
		return fmt.Errorf("cannot stage the vault root")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Update(func(entries []pdm.StagedCheckin) ([]pdm.StagedCheckin, error) {
		if prev := findPath(entries, p); prev != nil {
			baselineVersion = prev.BaselineServerVersion
		}
		entries, _ = withoutPath(entries, p)
		return append(entries, pdm.StagedCheckin{
			RelativePath:          p,
			Comment:               comment,
			BaselineServerVersion: baselineVersion,
			QueuedAt:              s.clock.Now().UTC(),
		}), nil
	})
}

// DequeueAll returns a FIFO snapshot of the queue without removing anything.
func (s *stagedQueue) DequeueAll() ([]pdm.StagedCheckin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pdm.StagedCheckin
	err := s.store.View(func(entries []pdm.StagedCheckin) error {
		out = append(out, entries...)
		return nil
	})
	return out, err
}

// Get returns the entry for relativePath, or nil if it is not queued.
func (s *stagedQueue) Get(relativePath string) (*pdm.StagedCheckin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *pdm.StagedCheckin
	err := s.store.View(func(entries []pdm.StagedCheckin) error {
		found = findPath(entries, relativePath)
		return nil
	})
	return found, err
}

// Remove deletes the entry for relativePath.
func (s *stagedQueue) Remove(relativePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Update(func(entries []pdm.StagedCheckin) ([]pdm.StagedCheckin, error) {
		next, _ := withoutPath(entries, relativePath)
		return next, nil
	})
}

// Len returns the number of queued entries.
func (s *stagedQueue) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.store.View(func(entries []pdm.StagedCheckin) error {
		n = len(entries)
		return nil
	})
	return n, err
}
