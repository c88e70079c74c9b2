// Package fs is the real-disk implementation of pdm.FilesystemManager. It
// is the only place vault-relative paths are converted to OS paths.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"cadvault/internal/pdm"
)

// tempPrefix names the files Write stages next to their destination.
const tempPrefix = ".cv-tmp-"

// DefaultHashCacheSize is used when the configured size is not positive.
const DefaultHashCacheSize = 4096

// hashEntry is a cached content hash, valid while size and mtime match.
type hashEntry struct {
	size    int64
	modTime time.Time
	hash    string
}

// OSFilesystemManager operates on a vault root directory on disk.
type OSFilesystemManager struct {
	root   string
	ignore *IgnoreMatcher
	hashes *lru.Cache[string, hashEntry]
	logger pdm.Logger
}

// NewOSFilesystemManager creates a manager rooted at the absolute path
// root. Patterns from root/.cvignore are added to ignore.
func NewOSFilesystemManager(root string, ignore []string, hashCacheSize int, logger pdm.Logger) (*OSFilesystemManager, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("vault root must be absolute: %s", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat vault root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root is not a directory: %s", root)
	}
	if logger == nil {
		logger = pdm.NewNopLogger()
	}

	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil, err
	}
	if hashCacheSize <= 0 {
		hashCacheSize = DefaultHashCacheSize
	}
	cache, err := lru.New[string, hashEntry](hashCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating hash cache: %w", err)
	}

	return &OSFilesystemManager{
		root:   root,
		ignore: NewIgnoreMatcher(append(append([]string(nil), ignore...), fromFile...)),
		hashes: cache,
		logger: logger,
	}, nil
}

// Root returns the absolute vault root.
func (m *OSFilesystemManager) Root() string { return m.root }

// osPath converts a vault-relative path to an absolute OS path. The vault
// root itself is rejected.
func (m *OSFilesystemManager) osPath(relativePath string) (string, string, error) {
	p, err := pdm.NormalizePath(relativePath)
	if err != nil {
		return "", "", err
	}
	if p == "" {
		return "", "", fmt.Errorf("operation on the vault root is not allowed")
	}
	return p, filepath.Join(m.root, filepath.FromSlash(p)), nil
}

// hashFile returns the content hash of a regular file, reusing the cached
// value while size and mtime are unchanged.
func (m *OSFilesystemManager) hashFile(rel, abs string, info fs.FileInfo) (string, error) {
	if e, ok := m.hashes.Get(rel); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.hash, nil
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash, _, err := pdm.HashContent(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", rel, err)
	}
	m.hashes.Add(rel, hashEntry{size: info.Size(), modTime: info.ModTime(), hash: hash})
	return hash, nil
}

func (m *OSFilesystemManager) localFile(rel, abs string, info fs.FileInfo) (*pdm.LocalFile, error) {
	lf := &pdm.LocalFile{
		RelativePath: rel,
		IsDir:        info.IsDir(),
		Size:         info.Size(),
		ModTime:      info.ModTime(),
	}
	if lf.IsDir {
		lf.Size = 0
		return lf, nil
	}
	hash, err := m.hashFile(rel, abs, info)
	if err != nil {
		return nil, err
	}
	lf.ContentHash = hash
	return lf, nil
}

func (m *OSFilesystemManager) Scan(ctx context.Context) ([]*pdm.LocalFile, error) {
	var out []*pdm.LocalFile
	err := filepath.WalkDir(m.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if abs == m.root {
			return nil
		}
		relOS, err := filepath.Rel(m.root, abs)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)

		// Ignored files are still reported so the classifier can show
		// them; ignored directories are not descended into.
		if d.IsDir() && m.ignore.MatchDir(rel) {
			return filepath.SkipDir
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			m.logger.Debug("skipping non-regular file", "path", rel)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}
		lf, err := m.localFile(rel, abs, info)
		if err != nil {
			return err
		}
		out = append(out, lf)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning vault root: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

func (m *OSFilesystemManager) Stat(relativePath string) (*pdm.LocalFile, error) {
	rel, abs, err := m.osPath(relativePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("unsupported file type: %s", rel)
	}
	return m.localFile(rel, abs, info)
}

func (m *OSFilesystemManager) Open(relativePath string) (io.ReadCloser, error) {
	rel, abs, err := m.osPath(relativePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", rel, err)
	}
	return f, nil
}

// Write stages r in a temp file beside the destination, then renames it
// into place so readers never see a partial file.
func (m *OSFilesystemManager) Write(relativePath string, r io.Reader) (*pdm.LocalFile, error) {
	rel, abs, err := m.osPath(relativePath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file for %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hash, _, err := pdm.HashContent(io.TeeReader(r, tmp))
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("syncing %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file for %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return nil, fmt.Errorf("replacing %s: %w", rel, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	m.hashes.Add(rel, hashEntry{size: info.Size(), modTime: info.ModTime(), hash: hash})
	return &pdm.LocalFile{
		RelativePath: rel,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		ContentHash:  hash,
	}, nil
}

func (m *OSFilesystemManager) Copy(srcPath, dstPath string) error {
	src, err := m.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	if _, err := m.Write(dstPath, src); err != nil {
		return fmt.Errorf("copying %s to %s: %w", srcPath, dstPath, err)
	}
	return nil
}

func (m *OSFilesystemManager) Rename(srcPath, dstPath string) error {
	srcRel, src, err := m.osPath(srcPath)
	if err != nil {
		return err
	}
	dstRel, dst, err := m.osPath(dstPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dstRel, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", srcRel, dstRel, err)
	}
	m.hashes.Remove(srcRel)
	m.hashes.Remove(dstRel)
	return nil
}

func (m *OSFilesystemManager) Remove(relativePath string) error {
	rel, abs, err := m.osPath(relativePath)
	if err != nil {
		return err
	}
	m.hashes.Remove(rel)
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	return nil
}

func (m *OSFilesystemManager) IsIgnored(relativePath string) bool {
	return m.ignore.Match(relativePath)
}

// Compile-time check that OSFilesystemManager implements pdm.FilesystemManager
var _ pdm.FilesystemManager = (*OSFilesystemManager)(nil)
