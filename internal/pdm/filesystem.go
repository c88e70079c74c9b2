package pdm

import (
	"context"
	"io"
)

// FilesystemManager provides access to the local vault root. All paths are
// vault-relative and forward-slash; implementations convert at the
// boundary. It abstracts file access to enable testing without touching
// the real filesystem.
type FilesystemManager interface {
	// Scan walks the vault root and returns every file and directory with
	// content hashes filled in for files.
	Scan(ctx context.Context) ([]*LocalFile, error)

	// Stat returns the facts for one path, or (nil, nil) if it does not
	// exist.
	Stat(relativePath string) (*LocalFile, error)

	// Open opens a file for reading.
	Open(relativePath string) (io.ReadCloser, error)

	// Write atomically replaces the file at relativePath with the content
	// of r, creating parent directories as needed.
	Write(relativePath string, r io.Reader) (*LocalFile, error)

	// Copy duplicates a file within the vault.
	Copy(srcPath, dstPath string) error

	// Rename moves a file within the vault, creating parent directories.
	Rename(srcPath, dstPath string) error

	// Remove deletes a file. Removing a missing file is not an error.
	Remove(relativePath string) error

	// IsIgnored reports whether relativePath matches the ignore rules.
	IsIgnored(relativePath string) bool
}
