package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for tests and for the "memory" server type.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name    string
	content map[string][]byte // checksum -> content
	mu      sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		content: make(map[string][]byte),
	}
}

// PutContent stores content identified by its checksum.
func (m *MemoryVault) PutContent(_ context.Context, checksum string, r io.Reader, size int64) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[checksum]; !ok {
		m.content[checksum] = data
	}
	return nil
}

// GetContent retrieves content by checksum.
func (m *MemoryVault) GetContent(_ context.Context, checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrContentNotFound, checksum)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// HasContent reports whether checksum is stored.
func (m *MemoryVault) HasContent(_ context.Context, checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}

var _ Vault = (*MemoryVault)(nil)
