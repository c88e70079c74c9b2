package pdm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Resolution is the user's choice for a conflicted staged check-in.
type Resolution uint8

const (
	KeepLocal Resolution = iota + 1
	KeepServer
	Backup
)

func (r Resolution) String() string {
	switch r {
	case KeepLocal:
		return "keep-local"
	case KeepServer:
		return "keep-server"
	case Backup:
		return "backup"
	}
	return fmt.Sprintf("Resolution(%d)", uint8(r))
}

// ParseResolution is the inverse of String.
func ParseResolution(s string) (Resolution, error) {
	for _, r := range []Resolution{KeepLocal, KeepServer, Backup} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown resolution %q (want keep-local, keep-server or backup)", s)
}

// ConflictState is where a staged entry sits in reconciliation.
type ConflictState uint8

const (
	StateDetect ConflictState = iota
	StateConflicted
)

func (s ConflictState) String() string {
	if s == StateConflicted {
		return "conflicted"
	}
	return "detect"
}

// Conflict is a staged entry that could not be replayed automatically.
type Conflict struct {
	Entry  StagedCheckin
	State  ConflictState
	Server *ServerFileRecord
	Err    error
}

// ReplayResult reports what reconciliation did with one staged entry.
type ReplayResult struct {
	Path       string
	Replayed   bool
	NewVersion int64
	Conflict   *Conflict
	Err        error
}

// ConflictResolver replays staged check-ins once the server is reachable
// and holds the ones that collided with newer server versions until the
// user picks a resolution. Each entry is handled independently.
type ConflictResolver struct {
	queue   StagedQueue
	server  Server
	fsmgr   FilesystemManager
	locks   *LockManager
	puller  *puller
	logger  Logger

	mu        sync.Mutex
	conflicts map[string]*Conflict
}

func newConflictResolver(queue StagedQueue, server Server, fsmgr FilesystemManager, locks *LockManager, p *puller, logger Logger) *ConflictResolver {
	return &ConflictResolver{
		queue:     queue,
		server:    server,
		fsmgr:     fsmgr,
		locks:     locks,
		puller:    p,
		logger:    logger,
		conflicts: make(map[string]*Conflict),
	}
}

// Reconcile runs Detect over every staged entry in FIFO order. Entries
// whose baseline still matches the server are replayed as standard
// check-ins and leave the queue; the rest become conflicts. A network
// failure stops the pass and leaves the remaining entries untouched.
func (r *ConflictResolver) Reconcile(ctx context.Context) ([]ReplayResult, error) {
	entries, err := r.queue.DequeueAll()
	if err != nil {
		return nil, fmt.Errorf("reading staged queue: %w", err)
	}

	var results []ReplayResult
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.detect(ctx, entry)
		results = append(results, res)
		if errors.Is(res.Err, ErrNetwork) {
			return results, res.Err
		}
	}
	return results, nil
}

func (r *ConflictResolver) detect(ctx context.Context, entry StagedCheckin) ReplayResult {
	path := entry.RelativePath
	res := ReplayResult{Path: path}

	srv, err := r.server.GetRecord(ctx, path)
	switch {
	case isNotFound(err) && entry.BaselineServerVersion == 0:
		// New file staged offline: nothing on the server to collide with.
	case isNotFound(err):
		res.Conflict = r.markConflicted(entry, nil, &ConflictDetected{Path: path, BaselineVersion: entry.BaselineServerVersion, ServerDeleted: true})
		return res
	case err != nil:
		res.Err = fmt.Errorf("detecting conflicts for %s: %w", path, err)
		return res
	case srv.Version != entry.BaselineServerVersion:
		res.Conflict = r.markConflicted(entry, srv, &ConflictDetected{Path: path, BaselineVersion: entry.BaselineServerVersion, ServerVersion: srv.Version})
		return res
	}

	version, err := r.replay(ctx, entry)
	if err != nil {
		if IsTerminal(err) || errors.Is(err, ErrDifferentDevice) {
			res.Conflict = r.markConflicted(entry, srv, err)
			return res
		}
		res.Err = err
		return res
	}
	res.Replayed = true
	res.NewVersion = version
	return res
}

// replay performs a standard check-in of a staged entry: take the lock
// (keeping the user's own lock from another device) and check in.
func (r *ConflictResolver) replay(ctx context.Context, entry StagedCheckin) (int64, error) {
	path := entry.RelativePath
	if entry.BaselineServerVersion > 0 && !r.locks.HoldsLock(path) {
		if _, err := r.locks.TakeOver(ctx, path); err != nil {
			return 0, err
		}
	}
	version, err := r.locks.Checkin(ctx, path, entry.Comment)
	if err != nil {
		return 0, err
	}
	if err := r.finish(path); err != nil {
		return version, err
	}
	r.logger.Info("replayed staged check-in", "path", path, "version", version)
	return version, nil
}

func (r *ConflictResolver) markConflicted(entry StagedCheckin, srv *ServerFileRecord, cause error) *Conflict {
	c := &Conflict{Entry: entry, State: StateConflicted, Server: srv.Clone(), Err: cause}
	r.mu.Lock()
	r.conflicts[entry.RelativePath] = c
	r.mu.Unlock()
	r.logger.Warn("staged check-in conflicted", "path", entry.RelativePath, "err", cause)
	return c
}

// Conflicts returns the entries awaiting a resolution, sorted by path.
func (r *ConflictResolver) Conflicts() []*Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		cc := *c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.RelativePath < out[j].Entry.RelativePath })
	return out
}

// Resolve applies res to the staged entry for path. On success the entry
// leaves the queue; on failure it stays and the error is returned.
func (r *ConflictResolver) Resolve(ctx context.Context, path string, res Resolution) error {
	entry, err := r.queue.Get(path)
	if err != nil {
		return fmt.Errorf("reading staged entry for %s: %w", path, err)
	}
	if entry == nil {
		return fmt.Errorf("no staged check-in for %s: %w", path, ErrNotFound)
	}

	switch res {
	case KeepLocal:
		err = r.keepLocal(ctx, *entry)
	case KeepServer:
		err = r.keepServer(ctx, path)
	case Backup:
		err = r.backup(ctx, path)
	default:
		err = fmt.Errorf("unknown resolution %d", res)
	}
	if err != nil {
		return fmt.Errorf("resolving %s (%s): %w", path, res, err)
	}
	r.logger.Info("resolved conflict", "path", path, "resolution", res.String())
	return r.finish(path)
}

// ResolveAll applies each resolution independently. The returned map holds
// an entry for every path that failed.
func (r *ConflictResolver) ResolveAll(ctx context.Context, choices map[string]Resolution) map[string]error {
	paths := make([]string, 0, len(choices))
	for p := range choices {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	failed := make(map[string]error)
	for _, p := range paths {
		if err := r.Resolve(ctx, p, choices[p]); err != nil {
			failed[p] = err
		}
	}
	return failed
}

// keepLocal overwrites the server with the local bytes. The lock is taken
// through the normal compare-and-set, so another user's lock still wins.
func (r *ConflictResolver) keepLocal(ctx context.Context, entry StagedCheckin) error {
	path := entry.RelativePath
	if !r.locks.HoldsLock(path) {
		_, err := r.locks.TakeOver(ctx, path)
		if err != nil && !isNotFound(err) {
			return err
		}
	}
	_, err := r.locks.Checkin(ctx, path, entry.Comment)
	return err
}

// keepServer discards the local bytes in favour of the server version, or
// removes the local copy when the server deleted the file.
func (r *ConflictResolver) keepServer(ctx context.Context, path string) error {
	if _, err := r.server.GetRecord(ctx, path); err != nil {
		if isNotFound(err) {
			return r.puller.dropLocal(path)
		}
		return err
	}
	if r.locks.HoldsLock(path) {
		if err := r.locks.Release(ctx, path); err != nil {
			return err
		}
	}
	_, err := r.puller.pull(ctx, path)
	return err
}

// backup copies the local file aside under a deterministic name, then
// behaves like keepServer.
func (r *ConflictResolver) backup(ctx context.Context, path string) error {
	name, err := r.freeBackupName(path)
	if err != nil {
		return err
	}
	if err := r.fsmgr.Copy(path, name); err != nil {
		return fmt.Errorf("copying %s to %s: %w", path, name, err)
	}
	r.logger.Info("backed up local copy", "path", path, "backup", name)
	return r.keepServer(ctx, path)
}

func (r *ConflictResolver) freeBackupName(path string) (string, error) {
	for attempt := 1; ; attempt++ {
		name := BackupName(path, attempt)
		existing, err := r.fsmgr.Stat(name)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", name, err)
		}
		if existing == nil {
			return name, nil
		}
	}
}

func (r *ConflictResolver) finish(path string) error {
	if err := r.queue.Remove(path); err != nil {
		return fmt.Errorf("removing staged entry for %s: %w", path, err)
	}
	r.mu.Lock()
	delete(r.conflicts, path)
	r.mu.Unlock()
	return nil
}
