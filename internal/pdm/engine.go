package pdm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options configure an Engine.
type Options struct {
	Session           Session
	PollInterval      time.Duration
	MaxNetworkRetries int
	ConfirmTimeout    time.Duration
	// Concurrency bounds parallel per-path server requests.
	Concurrency int
}

const (
	DefaultPollInterval      = 30 * time.Second
	DefaultMaxNetworkRetries = 3
	DefaultConcurrency       = 8
)

// Engine is the synchronization and checkout state engine. It owns the
// file table and wires the lock manager, staged queue, conflict resolver
// and command pipeline together.
type Engine struct {
	opts    Options
	server  Server
	fsmgr   FilesystemManager
	queue   StagedQueue
	journal Journal
	clock   Clock
	logger  Logger

	table    *FileTable
	locks    *LockManager
	puller   *puller
	resolver *ConflictResolver
	pipeline *Pipeline

	syncMu   sync.Mutex
	failures atomic.Int32
	online   atomic.Bool
}

// NewEngine creates an Engine. The staged queue must already be loaded
// from durable storage so that reconciliation sees every offline edit.
func NewEngine(opts Options, server Server, fsmgr FilesystemManager, queue StagedQueue, journal Journal, logger Logger, clock Clock, ids IDGenerator) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxNetworkRetries <= 0 {
		opts.MaxNetworkRetries = DefaultMaxNetworkRetries
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	table := NewFileTable()
	locks := NewLockManager(server, fsmgr, journal, table, opts.Session, clock, logger)
	p := &puller{server: server, fsmgr: fsmgr, journal: journal, table: table, clock: clock, logger: logger}

	e := &Engine{
		opts:     opts,
		server:   server,
		fsmgr:    fsmgr,
		queue:    queue,
		journal:  journal,
		clock:    clock,
		logger:   logger,
		table:    table,
		locks:    locks,
		puller:   p,
		resolver: newConflictResolver(queue, server, fsmgr, locks, p, logger),
		pipeline: NewPipeline(opts.ConfirmTimeout, ids, logger),
	}
	e.online.Store(true)
	e.registerCommands()
	return e
}

// Session returns the identity the engine acts as.
func (e *Engine) Session() Session { return e.opts.Session }

// Locks returns the lock manager.
func (e *Engine) Locks() *LockManager { return e.locks }

// Resolver returns the conflict resolver.
func (e *Engine) Resolver() *ConflictResolver { return e.resolver }

// Pipeline returns the command pipeline.
func (e *Engine) Pipeline() *Pipeline { return e.pipeline }

// Online reports whether the last server request succeeded.
func (e *Engine) Online() bool { return e.online.Load() }

// Snapshot returns a copy of every record sorted by path.
func (e *Engine) Snapshot() []*FileRecord { return e.table.Snapshot() }

// Record returns a copy of the record at path, or nil.
func (e *Engine) Record(path string) *FileRecord { return e.table.Get(path) }

// FolderState derives the state of one folder from the current table.
func (e *Engine) FolderState(folder string) FolderState {
	return AggregateFolder(e.table.Snapshot(), folder, e.opts.Session.UserID)
}

// Folders derives the state of every folder in the table.
func (e *Engine) Folders() map[string]FolderState {
	return AggregateAll(e.table.Snapshot(), e.opts.Session.UserID)
}

// Staged returns the staged check-ins in FIFO order.
func (e *Engine) Staged() ([]StagedCheckin, error) { return e.queue.DequeueAll() }

// Execute runs a command through the pipeline.
func (e *Engine) Execute(ctx context.Context, name string, args Args) (*BatchResult, error) {
	return e.pipeline.Execute(ctx, name, args)
}

// Resolve applies a conflict resolution to one staged entry.
func (e *Engine) Resolve(ctx context.Context, path string, res Resolution) error {
	return e.resolver.Resolve(ctx, path, res)
}

// History returns the check-in history of path.
func (e *Engine) History(ctx context.Context, path string) ([]*Revision, error) {
	revs, err := e.server.History(ctx, path)
	if err != nil {
		return nil, e.noteServerErr(fmt.Errorf("history of %s: %w", path, err))
	}
	return revs, nil
}

// Refresh performs a full resync: scan the vault root, list the server,
// join both with the journal and replace the table. If a resync is already
// running it returns ErrSyncInProgress immediately. Network failures keep
// the last known table and are only returned once MaxNetworkRetries
// consecutive refreshes have failed.
func (e *Engine) Refresh(ctx context.Context) error {
	if !e.syncMu.TryLock() {
		return ErrSyncInProgress
	}
	defer e.syncMu.Unlock()

	start := e.clock.Now()
	seq := e.table.IssueAll()

	locals, err := e.fsmgr.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scanning vault: %w", err)
	}

	remote, err := e.server.ListRecords(ctx, "")
	if err != nil {
		if errors.Is(err, ErrNetwork) {
			return e.networkFailure(err)
		}
		return fmt.Errorf("listing server records: %w", err)
	}
	e.networkRecovered()

	baselines, err := e.journal.All()
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}

	records, err := e.join(locals, remote, baselines)
	if err != nil {
		return err
	}
	e.table.ReplaceAll(seq, records)
	e.logger.Debug("refreshed", "records", len(records), "took", e.clock.Now().Sub(start))

	if n, err := e.queue.Len(); err == nil && n > 0 {
		e.reconcile(ctx)
	}
	return nil
}

func (e *Engine) reconcile(ctx context.Context) {
	results, err := e.resolver.Reconcile(ctx)
	if err != nil {
		e.logger.Warn("reconciling staged check-ins", "err", err)
		if errors.Is(err, ErrNetwork) {
			e.online.Store(false)
		}
	}
	for _, r := range results {
		switch {
		case r.Replayed:
			e.logger.Info("staged check-in replayed", "path", r.Path, "version", r.NewVersion)
		case r.Conflict != nil:
			e.logger.Warn("staged check-in needs resolution", "path", r.Path, "err", r.Conflict.Err)
		case r.Err != nil:
			e.logger.Error("staged check-in failed", "path", r.Path, "err", r.Err)
		}
	}
}

// join combines scan results, server records and journal baselines into
// fresh records.
func (e *Engine) join(locals []*LocalFile, remote []*ServerFileRecord, baselines []*Baseline) ([]*FileRecord, error) {
	byPath := make(map[string]*FileRecord)
	get := func(p string) *FileRecord {
		rec, ok := byPath[p]
		if !ok {
			rec = &FileRecord{RelativePath: p}
			byPath[p] = rec
		}
		return rec
	}

	remoteByPath := make(map[string]*ServerFileRecord, len(remote))
	remoteByID := make(map[string]*ServerFileRecord, len(remote))
	for _, r := range remote {
		remoteByPath[r.RelativePath] = r
		remoteByID[r.ID] = r
	}
	localByPath := make(map[string]*LocalFile, len(locals))
	for _, l := range locals {
		localByPath[l.RelativePath] = l
	}

	claimed := make(map[string]bool)
	for _, b := range baselines {
		local := localByPath[b.RelativePath]
		if _, live := remoteByPath[b.RelativePath]; live {
			get(b.RelativePath).Baseline = b
			continue
		}
		if moved, ok := remoteByID[b.ServerID]; ok && local != nil {
			rec := get(b.RelativePath)
			rec.Baseline = b
			rec.Server = moved.Clone()
			rec.MovedTo = moved.RelativePath
			claimed[moved.RelativePath] = true
			continue
		}
		if local == nil {
			// Gone on both sides.
			if err := e.journal.Delete(b.RelativePath); err != nil {
				return nil, fmt.Errorf("pruning journal entry %s: %w", b.RelativePath, err)
			}
			continue
		}
		rec := get(b.RelativePath)
		rec.Baseline = b
		rec.Server = &ServerFileRecord{
			ID:           b.ServerID,
			RelativePath: b.RelativePath,
			Version:      b.Version,
			ContentHash:  b.ContentHash,
			Deleted:      true,
		}
	}

	for _, l := range locals {
		rec := get(l.RelativePath)
		rec.Local = l
		rec.IsDirectory = l.IsDir
		rec.Ignored = !l.IsDir && e.fsmgr.IsIgnored(l.RelativePath)
		if srv, ok := remoteByPath[l.RelativePath]; ok && rec.Server == nil {
			rec.Server = srv.Clone()
		}
	}

	for _, srv := range remote {
		if claimed[srv.RelativePath] {
			continue
		}
		rec := get(srv.RelativePath)
		if rec.Server == nil {
			rec.Server = srv.Clone()
		}
	}

	out := make([]*FileRecord, 0, len(byPath))
	for _, rec := range byPath {
		if err := e.adoptBaseline(rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// adoptBaseline writes a journal entry for a path whose local and server
// bytes already agree but which has never been pulled by this client.
func (e *Engine) adoptBaseline(rec *FileRecord) error {
	if rec.Baseline != nil || rec.Local == nil || rec.Server == nil || rec.Server.Deleted || rec.IsDirectory {
		return nil
	}
	if rec.Local.ContentHash != rec.Server.ContentHash {
		return nil
	}
	b := &Baseline{
		RelativePath: rec.RelativePath,
		ServerID:     rec.Server.ID,
		Version:      rec.Server.Version,
		ContentHash:  rec.Server.ContentHash,
		SyncedAt:     e.clock.Now(),
	}
	if err := e.journal.Set(b); err != nil {
		return fmt.Errorf("adopting baseline for %s: %w", rec.RelativePath, err)
	}
	rec.Baseline = b
	return nil
}

// RefreshPaths re-fetches the given paths concurrently. Each request takes
// a ticket when issued, so a slow answer never overwrites a newer one.
func (e *Engine) RefreshPaths(ctx context.Context, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, p := range paths {
		p := p
		tk := e.table.Issue(p)
		g.Go(func() error {
			srv, err := e.server.GetRecord(gctx, p)
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("fetching %s: %w", p, err)
			}
			local, err := e.fsmgr.Stat(p)
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			e.table.Apply(tk, func(rec *FileRecord) {
				rec.Local = local
				rec.IsDirectory = local != nil && local.IsDir
				rec.Ignored = local != nil && !local.IsDir && e.fsmgr.IsIgnored(p)
				rec.MovedTo = ""
				switch {
				case srv != nil:
					rec.Server = srv
				case rec.Baseline != nil && local != nil:
					rec.Server = &ServerFileRecord{ID: rec.Baseline.ServerID, RelativePath: p, Version: rec.Baseline.Version, ContentHash: rec.Baseline.ContentHash, Deleted: true}
				default:
					rec.Server = nil
				}
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return e.noteServerErr(err)
	}
	e.networkRecovered()
	return nil
}

// PollOnce runs one poll tick. A tick that finds a resync already running
// is skipped, not queued.
func (e *Engine) PollOnce(ctx context.Context) error {
	err := e.Refresh(ctx)
	if errors.Is(err, ErrSyncInProgress) {
		e.logger.Debug("poll skipped: sync in progress")
		return nil
	}
	return err
}

// Run polls the server until ctx ends. The next tick is scheduled only
// after the previous one finished.
func (e *Engine) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := e.PollOnce(ctx); err != nil {
				e.logger.Error("poll failed", "err", err)
			}
			timer.Reset(e.opts.PollInterval)
		}
	}
}

func (e *Engine) networkFailure(err error) error {
	n := e.failures.Add(1)
	e.online.Store(false)
	e.logger.Warn("server unreachable", "attempt", n, "err", err)
	if int(n) >= e.opts.MaxNetworkRetries {
		return fmt.Errorf("server unreachable after %d attempts: %w", n, err)
	}
	return nil
}

func (e *Engine) networkRecovered() {
	if e.failures.Swap(0) > 0 {
		e.logger.Info("server reachable again")
	}
	e.online.Store(true)
}

// noteServerErr tracks connectivity for a failed one-off request and
// returns err unchanged.
func (e *Engine) noteServerErr(err error) error {
	if errors.Is(err, ErrNetwork) {
		e.online.Store(false)
	}
	return err
}
