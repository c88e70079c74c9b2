package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"cadvault/internal/pdm"
)

// fileSystemStore persists the queue as a JSON document.
//
// Directory structure:
//
//	<staging_dir>/
//	  queue.json    (ordered list of staged check-ins)
//	  queue.lock    (advisory lock shared by every cv process)
//
// Every read happens under a shared lock and every write under an
// exclusive one, and the file is replaced by rename so a crash never
// leaves a half-written queue behind.
type fileSystemStore struct {
	stagingDir string
	queuePath  string
	lock       *flock.Flock
}

func newFileSystemStore(stagingDir string) (*fileSystemStore, error) {
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &fileSystemStore{
		stagingDir: stagingDir,
		queuePath:  filepath.Join(stagingDir, "queue.json"),
		lock:       flock.New(filepath.Join(stagingDir, "queue.lock")),
	}, nil
}

func (f *fileSystemStore) View(fn func([]pdm.StagedCheckin) error) error {
	if err := f.lock.RLock(); err != nil {
		return fmt.Errorf("locking staging queue: %w", err)
	}
	defer f.lock.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	return fn(entries)
}

func (f *fileSystemStore) Update(fn func([]pdm.StagedCheckin) ([]pdm.StagedCheckin, error)) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("locking staging queue: %w", err)
	}
	defer f.lock.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	next, err := fn(entries)
	if err != nil {
		return err
	}
	return f.save(next)
}

func (f *fileSystemStore) load() ([]pdm.StagedCheckin, error) {
	data, err := os.ReadFile(f.queuePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading staging queue: %w", err)
	}

	var qf queueFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("decoding staging queue %s: %w", f.queuePath, err)
	}
	if qf.Version != queueFileVersion {
		return nil, fmt.Errorf("staging queue %s has version %d, want %d", f.queuePath, qf.Version, queueFileVersion)
	}
	return qf.Entries, nil
}

func (f *fileSystemStore) save(entries []pdm.StagedCheckin) error {
	data, err := json.MarshalIndent(queueFile{Version: queueFileVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding staging queue: %w", err)
	}

	tmp, err := os.CreateTemp(f.stagingDir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("creating temp queue file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp queue file: %w", err)
	}
	if err := os.Rename(tmpPath, f.queuePath); err != nil {
		return fmt.Errorf("replacing queue file: %w", err)
	}
	return nil
}

// NewFileSystemStagedQueue creates a queue persisted under stagingDir.
func NewFileSystemStagedQueue(stagingDir string, clock pdm.Clock) (pdm.StagedQueue, error) {
	store, err := newFileSystemStore(stagingDir)
	if err != nil {
		return nil, err
	}
	return &stagedQueue{store: store, clock: clock}, nil
}
