package database

import (
	"context"
	"testing"
	"time"

	"cadvault/internal/pdm"
)

func newTestStore(t *testing.T, orgID string) *Store {
	t.Helper()
	s, err := OpenStore(":memory:", orgID)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func record(id, path string, version int64) *pdm.ServerFileRecord {
	return &pdm.ServerFileRecord{
		ID:           id,
		RelativePath: path,
		Version:      version,
		Revision:     pdm.RevisionLabel(version),
		ContentHash:  "hash-" + id,
		Size:         42,
		UpdatedAt:    t0,
		UpdatedBy:    "alice",
	}
}

func put(t *testing.T, s *Store, recs ...*pdm.ServerFileRecord) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *Tx) error {
		for _, r := range recs {
			if err := tx.Put(r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func TestStore_PutAndFind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "acme")

	r := record("r1", "parts/bracket.sldprt", 3)
	r.CheckedOutBy = "bob"
	r.CheckedOutByDevice = "ws-2"
	r.CheckedOutAt = t0.Add(time.Hour)
	put(t, s, r)

	err := s.View(ctx, func(tx *Tx) error {
		got, err := tx.ByPath("parts/bracket.sldprt")
		if err != nil {
			return err
		}
		if got == nil {
			t.Fatal("ByPath() = nil")
		}
		if got.ID != "r1" || got.Version != 3 || got.Revision != "C" {
			t.Errorf("record = %+v", got)
		}
		if got.OrgID != "acme" {
			t.Errorf("OrgID = %q, want acme", got.OrgID)
		}
		if got.Holder() != (pdm.LockHolder{UserID: "bob", DeviceID: "ws-2"}) {
			t.Errorf("Holder() = %v", got.Holder())
		}
		if !got.CheckedOutAt.Equal(r.CheckedOutAt) {
			t.Errorf("CheckedOutAt = %v, want %v", got.CheckedOutAt, r.CheckedOutAt)
		}

		byID, err := tx.ByID("r1")
		if err != nil {
			return err
		}
		if byID == nil || byID.RelativePath != "parts/bracket.sldprt" {
			t.Errorf("ByID() = %+v", byID)
		}

		missing, err := tx.ByPath("nope.sldprt")
		if err != nil {
			return err
		}
		if missing != nil {
			t.Errorf("ByPath(missing) = %+v, want nil", missing)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
}

func TestStore_PutReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "acme")

	put(t, s, record("r1", "a.sldprt", 1))
	moved := record("r1", "archive/a.sldprt", 2)
	moved.Deleted = true
	put(t, s, moved)

	_ = s.View(ctx, func(tx *Tx) error {
		old, _ := tx.ByPath("a.sldprt")
		if old != nil {
			t.Errorf("old path still present: %+v", old)
		}
		got, _ := tx.ByPath("archive/a.sldprt")
		if got == nil || got.Version != 2 || !got.Deleted {
			t.Errorf("ByPath() = %+v", got)
		}
		return nil
	})
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "acme")

	tomb := record("r4", "parts/old.sldprt", 1)
	tomb.Deleted = true
	put(t, s,
		record("r1", "parts/b.sldprt", 1),
		record("r2", "parts/a.sldprt", 1),
		record("r3", "parts_extra/c.sldprt", 1),
		record("r5", "parts/sub/d.sldprt", 1),
		record("r6", "top.sldasm", 1),
		tomb,
	)

	tests := []struct {
		prefix string
		want   []string
	}{
		{"", []string{"parts/a.sldprt", "parts/b.sldprt", "parts/sub/d.sldprt", "parts_extra/c.sldprt", "top.sldasm"}},
		{"parts", []string{"parts/a.sldprt", "parts/b.sldprt", "parts/sub/d.sldprt"}},
		{"parts/sub", []string{"parts/sub/d.sldprt"}},
		{"top.sldasm", []string{"top.sldasm"}},
		{"none", nil},
		{"Parts", nil},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			var got []string
			err := s.View(ctx, func(tx *Tx) error {
				recs, err := tx.List(tt.prefix)
				for _, r := range recs {
					got = append(got, r.RelativePath)
				}
				return err
			})
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("List(%q)[%d] = %q, want %q", tt.prefix, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestStore_Revisions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "acme")
	put(t, s, record("r1", "a.sldprt", 2))

	err := s.Update(ctx, func(tx *Tx) error {
		for v := int64(1); v <= 2; v++ {
			if err := tx.AddRevision("r1", &pdm.Revision{
				Version: v, Revision: pdm.RevisionLabel(v), ContentHash: "h", Size: 1,
				Comment: "rev", CheckedInBy: "alice", CheckedInAt: t0,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddRevision() error = %v", err)
	}

	_ = s.View(ctx, func(tx *Tx) error {
		revs, err := tx.Revisions("r1")
		if err != nil {
			t.Fatalf("Revisions() error = %v", err)
		}
		if len(revs) != 2 || revs[0].Version != 2 || revs[1].Version != 1 {
			t.Errorf("Revisions() = %+v, want newest first", revs)
		}
		return nil
	})

	if err := s.Update(ctx, func(tx *Tx) error { return tx.Purge("r1") }); err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	_ = s.View(ctx, func(tx *Tx) error {
		revs, _ := tx.Revisions("r1")
		if len(revs) != 0 {
			t.Errorf("revisions survive purge: %+v", revs)
		}
		return nil
	})
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "acme")

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.Put(record("r1", "a.sldprt", 1)); err != nil {
			return err
		}
		return pdm.ErrLockConflict
	})
	if err != pdm.ErrLockConflict {
		t.Fatalf("Update() error = %v, want ErrLockConflict", err)
	}

	_ = s.View(ctx, func(tx *Tx) error {
		got, _ := tx.ByPath("a.sldprt")
		if got != nil {
			t.Errorf("record persisted after rollback: %+v", got)
		}
		return nil
	})
}

func TestStore_OrgIsolation(t *testing.T) {
	ctx := context.Background()
	db, err := OpenConnection(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := OpenStoreOn(db, "acme"); err != nil {
		t.Fatal(err)
	}

	acme := NewStore(db, "acme")
	other := NewStore(db, "globex")
	put(t, acme, record("r1", "a.sldprt", 1))

	_ = other.View(ctx, func(tx *Tx) error {
		got, _ := tx.ByPath("a.sldprt")
		if got != nil {
			t.Errorf("record visible to another org: %+v", got)
		}
		return nil
	})
}
