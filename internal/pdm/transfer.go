package pdm

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// puller brings server content down into the vault root and records the
// new baseline.
type puller struct {
	server  Server
	fsmgr   FilesystemManager
	journal Journal
	table   *FileTable
	clock   Clock
	logger  Logger
}

// pull replaces the local copy of path with the server's current version.
// The local file is replaced atomically; a failed download leaves it as
// it was.
func (p *puller) pull(ctx context.Context, path string) (*ServerFileRecord, error) {
	tk := p.table.Issue(path)

	pr, pw := io.Pipe()
	type result struct {
		rec *ServerFileRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		digest := newDigest()
		rec, err := p.server.Download(ctx, path, io.MultiWriter(pw, digest))
		if err == nil && digestHex(digest) != rec.ContentHash {
			err = ErrHashMismatch
		}
		// The writer only sees EOF once the digest matched, so a bad
		// download never replaces the local file.
		pw.CloseWithError(err)
		done <- result{rec, err}
	}()

	local, werr := p.fsmgr.Write(path, pr)
	pr.Close()
	res := <-done
	if res.err != nil && !errors.Is(res.err, io.ErrClosedPipe) {
		return nil, fmt.Errorf("downloading %s: %w", path, res.err)
	}
	if werr != nil {
		return nil, fmt.Errorf("writing %s: %w", path, werr)
	}
	if res.err != nil {
		return nil, fmt.Errorf("downloading %s: %w", path, res.err)
	}

	b := &Baseline{
		RelativePath: path,
		ServerID:     res.rec.ID,
		Version:      res.rec.Version,
		ContentHash:  res.rec.ContentHash,
		SyncedAt:     p.clock.Now(),
	}
	if err := p.journal.Set(b); err != nil {
		return nil, fmt.Errorf("recording baseline for %s: %w", path, err)
	}
	p.table.Apply(tk, func(r *FileRecord) {
		r.Server = res.rec.Clone()
		r.Local = local
		r.Baseline = b
		r.MovedTo = ""
	})
	p.logger.Info("pulled", "path", path, "version", res.rec.Version)
	return res.rec, nil
}

// dropLocal removes the local copy of a path the server no longer has and
// forgets its baseline.
func (p *puller) dropLocal(path string) error {
	if err := p.fsmgr.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	if err := p.journal.Delete(path); err != nil {
		return fmt.Errorf("forgetting baseline for %s: %w", path, err)
	}
	p.table.Update(path, func(r *FileRecord) {
		r.Local = nil
		r.Server = nil
		r.Baseline = nil
	})
	return nil
}

// isNotFound reports whether err means the server has no live record.
func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
