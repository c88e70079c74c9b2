package pdm

import "testing"

func TestOptimistic(t *testing.T) {
	alice := LockHolder{UserID: "alice", DeviceID: "laptop"}
	bob := LockHolder{UserID: "bob", DeviceID: "desk"}

	t.Run("confirm collapses the latest proposal", func(t *testing.T) {
		o := NewOptimistic(LockHolder{})
		v := o.Propose(alice)
		if o.Value() != alice || !o.Pending() {
			t.Fatalf("after Propose: value=%v pending=%v", o.Value(), o.Pending())
		}
		if !o.Confirm(v, alice) {
			t.Fatal("Confirm() of latest proposal = false")
		}
		if o.Pending() || o.Committed() != alice {
			t.Errorf("after Confirm: pending=%v committed=%v", o.Pending(), o.Committed())
		}
	})

	t.Run("stale confirmation keeps the newer proposal", func(t *testing.T) {
		o := NewOptimistic(LockHolder{})
		first := o.Propose(alice)
		o.Propose(LockHolder{})
		if o.Confirm(first, alice) {
			t.Fatal("Confirm() of stale proposal = true")
		}
		if !o.Pending() || !o.Value().IsZero() {
			t.Errorf("newer proposal lost: pending=%v value=%v", o.Pending(), o.Value())
		}
		if o.Committed() != alice {
			t.Errorf("committed = %v, want server answer %v", o.Committed(), alice)
		}
	})

	t.Run("reject reverts to committed", func(t *testing.T) {
		o := NewOptimistic(bob)
		v := o.Propose(alice)
		if !o.Reject(v) {
			t.Fatal("Reject() = false")
		}
		if o.Value() != bob {
			t.Errorf("Value() = %v, want %v", o.Value(), bob)
		}
		if o.Reject(v) {
			t.Error("second Reject() = true")
		}
	})

	t.Run("reset leaves the proposal alone", func(t *testing.T) {
		o := NewOptimistic(LockHolder{})
		o.Propose(alice)
		o.Reset(bob)
		if o.Value() != alice || o.Committed() != bob {
			t.Errorf("value=%v committed=%v", o.Value(), o.Committed())
		}
		if o.Version() != 1 {
			t.Errorf("Version() = %d, want 1", o.Version())
		}
	})
}

func srvRecord(p string, version int64, holder string) *ServerFileRecord {
	return &ServerFileRecord{ID: "id-" + p, RelativePath: p, Version: version, ContentHash: "h", CheckedOutBy: holder}
}

func TestFileTable_TicketsRejectStaleCompletions(t *testing.T) {
	table := NewFileTable()
	older := table.Issue("a.prt")
	newer := table.Issue("a.prt")

	if !table.Apply(newer, func(r *FileRecord) { r.Server = srvRecord("a.prt", 5, "") }) {
		t.Fatal("Apply(newer) = false")
	}
	if table.Apply(older, func(r *FileRecord) { r.Server = srvRecord("a.prt", 4, "") }) {
		t.Fatal("Apply(older) = true after newer was applied")
	}
	if got := table.Get("a.prt").Server.Version; got != 5 {
		t.Errorf("version = %d, want 5", got)
	}

	// Tickets are per path.
	other := table.Issue("b.prt")
	_ = table.Issue("a.prt")
	if !table.Apply(other, func(r *FileRecord) { r.Server = srvRecord("b.prt", 1, "") }) {
		t.Error("Apply() for another path was rejected")
	}
}

func TestFileTable_ReplaceAll(t *testing.T) {
	t.Run("newer per-path update survives an older refresh", func(t *testing.T) {
		table := NewFileTable()
		seq := table.IssueAll()
		tk := table.Issue("a.prt")
		table.Apply(tk, func(r *FileRecord) { r.Server = srvRecord("a.prt", 7, "") })

		table.ReplaceAll(seq, []*FileRecord{{RelativePath: "a.prt", Server: srvRecord("a.prt", 6, "")}})
		if got := table.Get("a.prt").Server.Version; got != 7 {
			t.Errorf("version = %d, want 7", got)
		}
	})

	t.Run("missing paths are dropped", func(t *testing.T) {
		table := NewFileTable()
		table.ReplaceAll(table.IssueAll(), []*FileRecord{
			{RelativePath: "a.prt", Server: srvRecord("a.prt", 1, "")},
			{RelativePath: "b.prt", Server: srvRecord("b.prt", 1, "")},
		})
		table.ReplaceAll(table.IssueAll(), []*FileRecord{{RelativePath: "a.prt", Server: srvRecord("a.prt", 1, "")}})
		if table.Len() != 1 || table.Get("b.prt") != nil {
			t.Errorf("b.prt not dropped: %d records", table.Len())
		}
	})

	t.Run("pending lock proposal is carried over", func(t *testing.T) {
		table := NewFileTable()
		table.ReplaceAll(table.IssueAll(), []*FileRecord{{RelativePath: "a.prt", Server: srvRecord("a.prt", 1, "")}})
		me := LockHolder{UserID: "alice", DeviceID: "laptop"}
		table.ProposeLock("a.prt", me)

		table.ReplaceAll(table.IssueAll(), []*FileRecord{{RelativePath: "a.prt", Server: srvRecord("a.prt", 1, "")}})
		rec := table.Get("a.prt")
		if !rec.LockPending() || rec.LockHolder() != me {
			t.Errorf("proposal lost: pending=%v holder=%v", rec.LockPending(), rec.LockHolder())
		}
	})
}

func TestFileTable_LockProposal(t *testing.T) {
	me := LockHolder{UserID: "alice", DeviceID: "laptop"}

	t.Run("confirm applies the server record", func(t *testing.T) {
		table := NewFileTable()
		table.Update("a.prt", func(r *FileRecord) { r.Server = srvRecord("a.prt", 1, "") })
		tk := table.Issue("a.prt")
		v := table.ProposeLock("a.prt", me)

		srv := srvRecord("a.prt", 1, "alice")
		srv.CheckedOutByDevice = "laptop"
		table.ConfirmLock(tk, v, srv)

		rec := table.Get("a.prt")
		if rec.LockPending() || rec.LockHolder() != me {
			t.Errorf("pending=%v holder=%v", rec.LockPending(), rec.LockHolder())
		}
	})

	t.Run("reject reverts to the server holder", func(t *testing.T) {
		table := NewFileTable()
		table.Update("a.prt", func(r *FileRecord) { r.Server = srvRecord("a.prt", 1, "bob") })
		v := table.ProposeLock("a.prt", me)
		table.RejectLock("a.prt", v)

		rec := table.Get("a.prt")
		if rec.LockPending() || rec.LockHolder().UserID != "bob" {
			t.Errorf("pending=%v holder=%v", rec.LockPending(), rec.LockHolder())
		}
	})

	t.Run("copies do not alias the table", func(t *testing.T) {
		table := NewFileTable()
		table.Update("a.prt", func(r *FileRecord) { r.Server = srvRecord("a.prt", 1, "") })
		got := table.Get("a.prt")
		got.Server.Version = 99
		if table.Get("a.prt").Server.Version != 1 {
			t.Error("mutating a returned record changed the table")
		}
	})
}

func TestFileTable_EmptyRecordIsRemoved(t *testing.T) {
	table := NewFileTable()
	table.Update("a.prt", func(r *FileRecord) { r.Local = &LocalFile{RelativePath: "a.prt"} })
	table.Update("a.prt", func(r *FileRecord) { r.Local = nil })
	if table.Get("a.prt") != nil {
		t.Error("record with no facts left was kept")
	}
}
