package pdm

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Command names accepted by Engine.Execute.
const (
	CmdCheckout     = "checkout"
	CmdCheckin      = "checkin"
	CmdGetLatest    = "get-latest"
	CmdForceRelease = "force-release"
	CmdDiscard      = "discard"
	CmdDelete       = "delete"
	CmdMove         = "move"
)

func (e *Engine) registerCommands() {
	e.pipeline.Register(CmdCheckout, e.checkoutCmd)
	e.pipeline.Register(CmdCheckin, e.checkinCmd)
	e.pipeline.Register(CmdGetLatest, e.getLatestCmd)
	e.pipeline.Register(CmdForceRelease, e.forceReleaseCmd)
	e.pipeline.Register(CmdDiscard, e.discardCmd)
	e.pipeline.Register(CmdDelete, e.deleteCmd)
	e.pipeline.Register(CmdMove, e.moveCmd)
}

func (e *Engine) requestor() Requestor {
	s := e.opts.Session
	return Requestor{UserID: s.UserID, DeviceID: s.DeviceID, Role: s.Role}
}

func (e *Engine) targets(x *Exec) ([]string, error) {
	if len(x.Args.Targets) == 0 {
		return nil, fmt.Errorf("no files given")
	}
	return ExpandTargets(e.table.Snapshot(), x.Args.Targets)
}

func onServer(rec *FileRecord) bool {
	return rec != nil && rec.Server != nil && !rec.Server.Deleted
}

func (e *Engine) checkoutCmd(ctx context.Context, x *Exec) (*BatchResult, error) {
	targets, err := e.targets(x)
	if err != nil {
		return nil, err
	}
	me := e.opts.Session.Holder()
	res := &BatchResult{}

	var plan, takeover []string
	for _, p := range targets {
		rec := e.table.Get(p)
		if !onServer(rec) {
			res.Fail(p, fmt.Errorf("not on server: %w", ErrNotFound))
			continue
		}
		switch h := rec.LockHolder(); {
		case h == me:
			res.OK(p, "already checked out")
		case h.UserID == me.UserID:
			takeover = append(takeover, p)
		default:
			plan = append(plan, p)
		}
	}

	if len(takeover) > 0 {
		ok, err := x.Confirm(ctx, "These files are checked out by you on another device. Move the checkout to this device?", takeover)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAborted
		}
	}

	var done []string
	apply := func(p string, fn func() (*LockToken, error)) {
		outdated := e.table.Get(p).Status() == StatusOutdated
		if _, err := fn(); err != nil {
			res.Fail(p, e.noteServerErr(err))
			return
		}
		done = append(done, p)
		if outdated {
			if srv, err := e.puller.pull(ctx, p); err != nil {
				res.OK(p, fmt.Sprintf("checked out; get latest failed: %v", err))
			} else {
				res.OK(p, fmt.Sprintf("checked out; pulled v%d", srv.Version))
			}
			return
		}
		res.OK(p, "checked out")
	}
	for _, p := range plan {
		apply(p, func() (*LockToken, error) { return e.locks.Checkout(ctx, p, me.UserID, me.DeviceID) })
	}
	for _, p := range takeover {
		apply(p, func() (*LockToken, error) { return e.locks.TakeOver(ctx, p) })
	}

	if len(done) > 0 {
		x.OnUndo(CmdCheckout, func(ctx context.Context) (*BatchResult, error) {
			undo := &BatchResult{}
			for _, p := range done {
				if err := e.locks.Release(ctx, p); err != nil {
					undo.Fail(p, err)
					continue
				}
				undo.OK(p, "released")
			}
			return undo, nil
		})
	}
	return res, nil
}

func (e *Engine) checkinCmd(ctx context.Context, x *Exec) (*BatchResult, error) {
	targets, err := e.targets(x)
	if err != nil {
		return nil, err
	}
	me := e.opts.Session.Holder()
	res := &BatchResult{}
	e.logger.Debug("check-in requested", "files", len(targets), "configurations", x.Args.Configurations)

	var plan, takeover []string
	for _, p := range targets {
		rec := e.table.Get(p)
		if rec == nil || rec.Local == nil || rec.IsDirectory {
			res.Fail(p, fmt.Errorf("no local file"))
			continue
		}
		if !onServer(rec) {
			plan = append(plan, p)
			continue
		}
		switch h := rec.LockHolder(); {
		case h == me:
			plan = append(plan, p)
		case h.IsZero():
			res.Fail(p, fmt.Errorf("check out before checking in: %w", ErrNotLockHolder))
		case h.UserID == me.UserID:
			takeover = append(takeover, p)
		default:
			res.Fail(p, &LockConflict{Path: p, Holder: h})
		}
	}

	if len(takeover) > 0 {
		ok, err := x.Confirm(ctx, "These files are checked out by you on another device. Check them in from this device?", takeover)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAborted
		}
	}

	offline := func(p string) {
		e.online.Store(false)
		if err := e.stage(p, x.Args.Comment); err != nil {
			res.Fail(p, err)
			return
		}
		res.OK(p, "staged while offline")
	}
	checkin := func(p string) {
		var (
			version int64
			err     error
		)
		if x.Args.KeepCheckedOut {
			version, err = e.locks.CheckinKeepLock(ctx, p, x.Args.Comment)
		} else {
			version, err = e.locks.Checkin(ctx, p, x.Args.Comment)
		}
		switch {
		case errors.Is(err, ErrNetwork):
			offline(p)
		case err != nil:
			res.Fail(p, err)
		default:
			res.OK(p, fmt.Sprintf("v%d", version))
		}
	}
	for _, p := range plan {
		checkin(p)
	}
	for _, p := range takeover {
		if _, err := e.locks.TakeOver(ctx, p); err != nil {
			if errors.Is(err, ErrNetwork) {
				// The table still shows the other device, so stage directly.
				offline(p)
				continue
			}
			res.Fail(p, err)
			continue
		}
		checkin(p)
	}
	return res, nil
}

// stage records an offline check-in against the version last pulled.
func (e *Engine) stage(p, comment string) error {
	var baseline int64
	if rec := e.table.Get(p); rec != nil && rec.Baseline != nil {
		baseline = rec.Baseline.Version
	}
	if err := e.queue.Stage(p, comment, baseline); err != nil {
		return fmt.Errorf("staging %s: %w", p, err)
	}
	e.logger.Info("staged check-in", "path", p, "baseline", baseline)
	return nil
}

func (e *Engine) getLatestCmd(ctx context.Context, x *Exec) (*BatchResult, error) {
	targets, err := e.targets(x)
	if err != nil {
		return nil, err
	}
	res := &BatchResult{}

	var pull, overwrite, remove, moves []string
	for _, p := range targets {
		rec := e.table.Get(p)
		if rec == nil || rec.Server == nil {
			res.Fail(p, fmt.Errorf("not on server: %w", ErrNotFound))
			continue
		}
		switch rec.Status() {
		case StatusSynced:
			res.OK(p, "up to date")
		case StatusOutdated, StatusCloudOnly:
			pull = append(pull, p)
		case StatusModifiedLocal:
			overwrite = append(overwrite, p)
		case StatusDeletedRemote:
			remove = append(remove, p)
		case StatusMoved:
			moves = append(moves, p)
		case StatusAddedLocal, StatusIgnored:
			res.Fail(p, fmt.Errorf("not on server: %w", ErrNotFound))
		}
	}

	if len(overwrite)+len(remove) > 0 {
		items := make([]string, 0, len(overwrite)+len(remove))
		items = append(items, overwrite...)
		for _, p := range remove {
			items = append(items, p+" (deleted on server)")
		}
		ok, err := x.Confirm(ctx, "Replace local changes with the server version?", items)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrAborted
		}
	}

	for _, p := range append(pull, overwrite...) {
		srv, err := e.puller.pull(ctx, p)
		if err != nil {
			res.Fail(p, e.noteServerErr(err))
			continue
		}
		res.OK(p, fmt.Sprintf("v%d", srv.Version))
	}
	for _, p := range remove {
		if err := e.puller.dropLocal(p); err != nil {
			res.Fail(p, err)
			continue
		}
		res.OK(p, "removed")
	}
	for _, p := range moves {
		rec := e.table.Get(p)
		to := rec.MovedTo
		if err := e.followMove(ctx, p, to); err != nil {
			res.Fail(p, err)
			continue
		}
		res.OK(p, "moved to "+to)
	}
	return res, nil
}

// followMove renames a local file to where the server moved it and pulls
// the current version there.
func (e *Engine) followMove(ctx context.Context, from, to string) error {
	if err := e.fsmgr.Rename(from, to); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", from, to, err)
	}
	if err := e.journal.Delete(from); err != nil {
		return fmt.Errorf("forgetting baseline for %s: %w", from, err)
	}
	e.table.Remove(from)
	if _, err := e.puller.pull(ctx, to); err != nil {
		return e.noteServerErr(err)
	}
	return nil
}

func (e *Engine) forceReleaseCmd(ctx context.Context, x *Exec) (*BatchResult, error) {
	targets, err := e.targets(x)
	if err != nil {
		return nil, err
	}
	res := &BatchResult{}
	role := e.opts.Session.Role
	if role != RoleAdmin {
		for _, p := range targets {
			res.Fail(p, &PermissionDenied{Op: CmdForceRelease, Role: role})
		}
		return res, nil
	}

	var plan, items []string
	for _, p := range targets {
		rec := e.table.Get(p)
		if !onServer(rec) {
			res.Fail(p, fmt.Errorf("not on server: %w", ErrNotFound))
			continue
		}
		h := rec.LockHolder()
		if h.IsZero() {
			res.OK(p, "not checked out")
			continue
		}
		plan = append(plan, p)
		items = append(items, fmt.Sprintf("%s (%s)", p, h))
	}
	if len(plan) == 0 {
		return res, nil
	}

	ok, err := x.Confirm(ctx, "Force release these checkouts? Unsaved work of the holders cannot be checked in.", items)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAborted
	}

	for _, p := range plan {
		if err := e.locks.ForceRelease(ctx, p, role); err != nil {
			res.Fail(p, e.noteServerErr(err))
			continue
		}
		res.OK(p, "released")
	}
	return res, nil
}

func (e *Engine) discardCmd(ctx context.Context, x *Exec) (*BatchResult, error) {
	targets, err := e.targets(x)
	if err != nil {
		return nil, err
	}
	res := &BatchResult{}

	var plan []string
	for _, p := range targets {
		rec := e.table.Get(p)
		if !onServer(rec) {
			res.Fail(p, fmt.Errorf("never checked in; delete it instead: %w", ErrNotFound))
			continue
		}
		if rec.Status() == StatusSynced && !rec.IsCheckedOutBy(e.opts.Session.UserID) {
			res.OK(p, "nothing to discard")
			continue
		}
		plan = append(plan, p)
	}
	if len(plan) == 0 {
		return res, nil
	}

	ok, err := x.Confirm(ctx, "Discard local changes and undo the checkout?", plan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAborted
	}

	for _, p := range plan {
		if err := e.discard(ctx, p); err != nil {
			res.Fail(p, e.noteServerErr(err))
			continue
		}
		res.OK(p, "discarded")
	}
	return res, nil
}

func (e *Engine) discard(ctx context.Context, p string) error {
	if e.locks.HoldsLock(p) {
		if err := e.locks.Release(ctx, p); err != nil {
			return err
		}
	}
	rec := e.table.Get(p)
	if rec == nil || rec.Local == nil || rec.Server == nil || rec.Local.ContentHash != rec.Server.ContentHash {
		if _, err := e.puller.pull(ctx, p); err != nil {
			return err
		}
	}
	if err := e.queue.Remove(p); err != nil {
		return fmt.Errorf("dropping staged entry for %s: %w", p, err)
	}
	return nil
}

func (e *Engine) deleteCmd(ctx context.Context, x *Exec) (*BatchResult, error) {
	targets, err := e.targets(x)
	if err != nil {
		return nil, err
	}
	res := &BatchResult{}
	var plan []string
	for _, p := range targets {
		rec := e.table.Get(p)
		if rec == nil {
			res.Fail(p, fmt.Errorf("unknown file: %w", ErrNotFound))
			continue
		}
		if h := rec.LockHolder(); !h.IsZero() && h.UserID != e.opts.Session.UserID {
			res.Fail(p, &LockConflict{Path: p, Holder: h})
			continue
		}
		plan = append(plan, p)
	}
	if len(plan) == 0 {
		return res, nil
	}

	ok, err := x.Confirm(ctx, "Delete these files from the vault and this machine?", plan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAborted
	}

	for _, p := range plan {
		rec := e.table.Get(p)
		if onServer(rec) {
			if err := e.server.Delete(ctx, p, e.requestor()); err != nil && !isNotFound(err) {
				res.Fail(p, e.noteServerErr(err))
				continue
			}
		}
		if err := e.fsmgr.Remove(p); err != nil {
			res.Fail(p, err)
			continue
		}
		if err := e.journal.Delete(p); err != nil {
			res.Fail(p, err)
			continue
		}
		if err := e.queue.Remove(p); err != nil {
			res.Fail(p, err)
			continue
		}
		e.table.Remove(p)
		res.OK(p, "deleted")
	}
	return res, nil
}

func (e *Engine) moveCmd(ctx context.Context, x *Exec) (*BatchResult, error) {
	targets, err := e.targets(x)
	if err != nil {
		return nil, err
	}
	dest, err := NormalizePath(x.Args.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	intoFolder := len(targets) > 1 || strings.HasSuffix(x.Args.Destination, "/") || dest == ""
	if !intoFolder {
		if rec := e.table.Get(dest); rec != nil && rec.IsDirectory {
			intoFolder = true
		}
	}

	res := &BatchResult{}
	type move struct{ from, to string }
	var done []move
	for _, p := range targets {
		to := dest
		if intoFolder {
			to = path.Join(dest, path.Base(p))
		}
		if err := e.move(ctx, p, to); err != nil {
			res.Fail(p, e.noteServerErr(err))
			continue
		}
		done = append(done, move{p, to})
		res.OK(p, "moved to "+to)
	}

	if len(done) > 0 {
		x.OnUndo(CmdMove, func(ctx context.Context) (*BatchResult, error) {
			undo := &BatchResult{}
			for i := len(done) - 1; i >= 0; i-- {
				m := done[i]
				if err := e.move(ctx, m.to, m.from); err != nil {
					undo.Fail(m.to, err)
					continue
				}
				undo.OK(m.to, "moved back to "+m.from)
			}
			return undo, nil
		})
	}
	return res, nil
}

func (e *Engine) move(ctx context.Context, from, to string) error {
	if from == to {
		return fmt.Errorf("source and destination are the same")
	}
	if existing := e.table.Get(to); existing != nil && (existing.Local != nil || onServer(existing)) {
		return fmt.Errorf("%s already exists", to)
	}
	rec := e.table.Get(from)
	if rec == nil {
		return fmt.Errorf("unknown file: %w", ErrNotFound)
	}
	if onServer(rec) {
		if _, err := e.server.Move(ctx, from, to, e.requestor()); err != nil {
			return err
		}
	}
	if rec.Local != nil {
		if err := e.fsmgr.Rename(from, to); err != nil {
			return fmt.Errorf("renaming local file: %w", err)
		}
	}
	var moved *Baseline
	if rec.Baseline != nil {
		b := *rec.Baseline
		b.RelativePath = to
		if err := e.journal.Set(&b); err != nil {
			return err
		}
		if err := e.journal.Delete(from); err != nil {
			return err
		}
		moved = &b
	}
	if staged, err := e.queue.Get(from); err == nil && staged != nil {
		if err := e.queue.Remove(from); err != nil {
			return err
		}
		if err := e.queue.Stage(to, staged.Comment, staged.BaselineServerVersion); err != nil {
			return err
		}
	}
	e.table.Remove(from)
	e.table.Update(to, func(r *FileRecord) { r.Baseline = moved })
	return e.RefreshPaths(ctx, []string{to})
}
