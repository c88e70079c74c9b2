package journal

import (
	"sort"
	"sync"

	"cadvault/internal/pdm"
)

// MemoryJournal keeps baselines in a map. Used by tests and by sessions
// configured without a persistent journal.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[string]pdm.Baseline
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]pdm.Baseline)}
}

func (m *MemoryJournal) Get(relativePath string) (*pdm.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.entries[relativePath]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryJournal) Set(b *pdm.Baseline) error {
	if err := validate(b); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[b.RelativePath] = *b
	return nil
}

func (m *MemoryJournal) Delete(relativePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, relativePath)
	return nil
}

func (m *MemoryJournal) All() ([]*pdm.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*pdm.Baseline, 0, len(m.entries))
	for _, b := range m.entries {
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

var _ pdm.Journal = (*MemoryJournal)(nil)
