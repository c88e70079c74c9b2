package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// Content is stored under the root, sharded by checksum prefix:
//
//	<root>/
//	  content/
//	    <ab>/
//	      <abcdef...>   (content files, named by SHA-256)
type FileSystemVault struct {
	name       string
	root       string
	contentDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	return &FileSystemVault{
		name:       name,
		root:       root,
		contentDir: contentDir,
	}, nil
}

func (v *FileSystemVault) contentPath(checksum string) string {
	return filepath.Join(v.contentDir, filepath.FromSlash(contentKey(checksum)))
}

// PutContent stores content identified by its checksum.
func (v *FileSystemVault) PutContent(_ context.Context, checksum string, r io.Reader, size int64) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}
	destPath := v.contentPath(checksum)

	if _, err := os.Stat(destPath); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	return v.writeFile(destPath, r, size)
}

// GetContent retrieves content by checksum and writes it to w.
func (v *FileSystemVault) GetContent(_ context.Context, checksum string, w io.Writer) error {
	if err := validChecksum(checksum); err != nil {
		return err
	}
	f, err := os.Open(v.contentPath(checksum))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrContentNotFound, checksum)
		}
		return fmt.Errorf("failed to open content: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	return nil
}

// HasContent reports whether checksum is stored.
func (v *FileSystemVault) HasContent(_ context.Context, checksum string) (bool, error) {
	if err := validChecksum(checksum); err != nil {
		return false, err
	}
	_, err := os.Stat(v.contentPath(checksum))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat content: %w", err)
	}
	return true, nil
}

// ValidateSetup verifies that the vault directories are accessible and
// writable.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	for _, dir := range []string{v.root, v.contentDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}

	probe, err := os.CreateTemp(v.contentDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault content directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ Vault = (*FileSystemVault)(nil)
