package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"cadvault/internal/pdm"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content []byte
	ModTime time.Time
}

// MockFilesystemManager is an in-memory vault root for testing. Paths are
// vault-relative; directories are implied by the files beneath them.
type MockFilesystemManager struct {
	mu     sync.Mutex
	files  map[string]*MockFile
	dirs   map[string]bool
	ignore []string
	clock  pdm.Clock

	// FailWrite, when set, is returned from Write for matching paths.
	FailWrite map[string]error
}

// NewMockFilesystemManager creates an empty mock filesystem. ignore holds
// doublestar patterns matched against the base name and the full path.
func NewMockFilesystemManager(clock pdm.Clock, ignore ...string) *MockFilesystemManager {
	return &MockFilesystemManager{
		files:     make(map[string]*MockFile),
		dirs:      make(map[string]bool),
		ignore:    ignore,
		clock:     clock,
		FailWrite: make(map[string]error),
	}
}

// AddFile adds or replaces a file.
func (m *MockFilesystemManager) AddFile(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = &MockFile{Content: append([]byte(nil), content...), ModTime: m.clock.Now()}
}

// AddDirectory adds an empty directory.
func (m *MockFilesystemManager) AddDirectory(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[p] = true
}

// Content returns a file's bytes and whether it exists.
func (m *MockFilesystemManager) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.Content...), true
}

// Paths returns every file path, sorted.
func (m *MockFilesystemManager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MockFilesystemManager) localFile(p string, f *MockFile) *pdm.LocalFile {
	return &pdm.LocalFile{
		RelativePath: p,
		Size:         int64(len(f.Content)),
		ModTime:      f.ModTime,
		ContentHash:  SHA256Hex(f.Content),
	}
}

func (m *MockFilesystemManager) Scan(ctx context.Context) ([]*pdm.LocalFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dirs := make(map[string]bool)
	for d := range m.dirs {
		dirs[d] = true
	}
	var out []*pdm.LocalFile
	for p, f := range m.files {
		if m.isIgnored(p) {
			continue
		}
		out = append(out, m.localFile(p, f))
		for _, parent := range pdm.ParentFolders(p) {
			dirs[parent] = true
		}
	}
	for d := range dirs {
		out = append(out, &pdm.LocalFile{RelativePath: d, IsDir: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

func (m *MockFilesystemManager) Stat(p string) (*pdm.LocalFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[p]; ok {
		return m.localFile(p, f), nil
	}
	if m.dirs[p] {
		return &pdm.LocalFile{RelativePath: p, IsDir: true}, nil
	}
	return nil, nil
}

func (m *MockFilesystemManager) Open(p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), f.Content...))), nil
}

func (m *MockFilesystemManager) Write(p string, r io.Reader) (*pdm.LocalFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrite[p]; err != nil {
		return nil, err
	}
	f := &MockFile{Content: data, ModTime: m.clock.Now()}
	m.files[p] = f
	return m.localFile(p, f), nil
}

func (m *MockFilesystemManager) Copy(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[src]
	if !ok {
		return fmt.Errorf("file not found: %s", src)
	}
	m.files[dst] = &MockFile{Content: append([]byte(nil), f.Content...), ModTime: m.clock.Now()}
	return nil
}

func (m *MockFilesystemManager) Rename(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[src]
	if !ok {
		return fmt.Errorf("file not found: %s", src)
	}
	delete(m.files, src)
	m.files[dst] = f
	return nil
}

func (m *MockFilesystemManager) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	return nil
}

func (m *MockFilesystemManager) IsIgnored(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isIgnored(p)
}

func (m *MockFilesystemManager) isIgnored(p string) bool {
	base := path.Base(p)
	for _, pat := range m.ignore {
		target := base
		if strings.Contains(pat, "/") {
			target = p
		}
		if ok, _ := doublestar.Match(pat, target); ok {
			return true
		}
	}
	return false
}

// Compile-time check
var _ pdm.FilesystemManager = (*MockFilesystemManager)(nil)
