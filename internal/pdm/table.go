package pdm

import (
	"sort"
	"sync"
)

// Ticket orders requests against the table. It is issued when a request
// starts; the completion is applied only if no later-issued ticket for the
// same path has already been applied.
type Ticket struct {
	Path string
	Seq  uint64
}

// FileTable is the single owner of file records. All mutation goes through
// its methods; readers receive deep copies.
type FileTable struct {
	mu      sync.RWMutex
	records map[string]*FileRecord
	seq     uint64
	applied map[string]uint64
}

// NewFileTable creates an empty table.
func NewFileTable() *FileTable {
	return &FileTable{
		records: make(map[string]*FileRecord),
		applied: make(map[string]uint64),
	}
}

// Issue hands out a ticket for a request about to be sent for path.
func (t *FileTable) Issue(path string) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return Ticket{Path: path, Seq: t.seq}
}

// IssueAll hands out one sequence number for a full refresh.
func (t *FileTable) IssueAll() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

// Get returns a copy of the record at path, or nil.
func (t *FileTable) Get(path string) *FileRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[path]
	if !ok {
		return nil
	}
	return rec.clone()
}

// Snapshot returns copies of every record sorted by path.
func (t *FileTable) Snapshot() []*FileRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*FileRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

// Len returns the number of records.
func (t *FileTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// ReplaceAll installs the result of a full refresh issued at seq. Paths
// that received a newer per-path update since seq was issued keep their
// current record. The lock proposal state and pending metadata edits of
// surviving records are carried over.
func (t *FileTable) ReplaceAll(seq uint64, fresh []*FileRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(fresh))
	for _, rec := range fresh {
		seen[rec.RelativePath] = true
		if t.applied[rec.RelativePath] > seq {
			continue
		}
		next := rec.clone()
		if old, ok := t.records[rec.RelativePath]; ok {
			next.lock = old.lock
			if next.PendingLocalEdits == nil {
				next.PendingLocalEdits = old.PendingLocalEdits
			}
		}
		next.lock.Reset(serverHolder(next.Server))
		next.reclassify()
		t.records[rec.RelativePath] = next
		t.applied[rec.RelativePath] = seq
	}
	for path, rec := range t.records {
		if seen[path] || t.applied[path] > seq || rec.lock.Pending() {
			continue
		}
		delete(t.records, path)
		delete(t.applied, path)
	}
}

// Apply runs fn against the record for tk.Path if tk is still the most
// recent request for that path, creating the record if needed. It reports
// whether fn ran.
func (t *FileTable) Apply(tk Ticket, fn func(rec *FileRecord)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.applied[tk.Path] > tk.Seq {
		return false
	}
	t.applied[tk.Path] = tk.Seq
	t.mutate(tk.Path, fn)
	return true
}

// Update runs fn against a record unconditionally. It is used for local
// facts owned by this process, such as baselines and metadata edits.
func (t *FileTable) Update(path string, fn func(rec *FileRecord)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mutate(path, fn)
}

// ProposeLock optimistically sets the lock holder for path and returns the
// proposal version.
func (t *FileTable) ProposeLock(path string, holder LockHolder) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var v uint64
	t.mutate(path, func(rec *FileRecord) { v = rec.lock.Propose(holder) })
	return v
}

// ConfirmLock settles a lock proposal with the server's answer. The
// server record is applied only if tk is still current; the proposal is
// settled either way.
func (t *FileTable) ConfirmLock(tk Ticket, version uint64, srv *ServerFileRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fresh := t.applied[tk.Path] <= tk.Seq
	if fresh {
		t.applied[tk.Path] = tk.Seq
	}
	t.mutate(tk.Path, func(rec *FileRecord) {
		if !fresh {
			rec.lock.Reject(version)
			return
		}
		rec.Server = srv.Clone()
		rec.lock.Confirm(version, serverHolder(srv))
	})
}

// RejectLock drops a failed lock proposal.
func (t *FileTable) RejectLock(path string, version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mutate(path, func(rec *FileRecord) { rec.lock.Reject(version) })
}

// Remove deletes the record at path.
func (t *FileTable) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, path)
}

func (t *FileTable) mutate(path string, fn func(rec *FileRecord)) {
	rec, ok := t.records[path]
	if !ok {
		rec = &FileRecord{RelativePath: path}
	}
	fn(rec)
	if !rec.lock.Pending() {
		rec.lock.Reset(serverHolder(rec.Server))
	}
	if rec.Local == nil && rec.Server == nil && rec.Baseline == nil && !rec.IsDirectory && !rec.lock.Pending() {
		delete(t.records, path)
		return
	}
	rec.reclassify()
	t.records[path] = rec
}

func serverHolder(srv *ServerFileRecord) LockHolder {
	if srv == nil || srv.Deleted {
		return LockHolder{}
	}
	return srv.Holder()
}
