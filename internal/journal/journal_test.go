package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cadvault/internal/config"
	"cadvault/internal/pdm"
)

func journals(t *testing.T) map[string]pdm.Journal {
	t.Helper()

	sq, err := OpenSQLiteJournal(":memory:", nil)
	if err != nil {
		t.Fatalf("OpenSQLiteJournal() error = %v", err)
	}
	t.Cleanup(func() { sq.Close() })

	return map[string]pdm.Journal{
		"memory": NewMemoryJournal(),
		"sqlite": sq,
	}
}

func baseline(path string, version int64) *pdm.Baseline {
	return &pdm.Baseline{
		RelativePath: path,
		ServerID:     "rec-" + path,
		Version:      version,
		ContentHash:  "abcdef0123456789",
		SyncedAt:     time.Date(2024, 1, 15, 10, 30, 0, 123, time.UTC),
	}
}

func TestJournal_SetGet(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			if err := j.Set(baseline("parts/bracket.sldprt", 3)); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			got, err := j.Get("parts/bracket.sldprt")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got == nil {
				t.Fatal("Get() = nil, want baseline")
			}
			if got.Version != 3 || got.ServerID != "rec-parts/bracket.sldprt" {
				t.Errorf("Get() = %+v", got)
			}
			if !got.SyncedAt.Equal(baseline("", 0).SyncedAt) {
				t.Errorf("SyncedAt = %v, want %v", got.SyncedAt, baseline("", 0).SyncedAt)
			}
		})
	}
}

func TestJournal_GetMissing(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			got, err := j.Get("nope.sldprt")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != nil {
				t.Errorf("Get() = %+v, want nil", got)
			}
		})
	}
}

func TestJournal_SetReplaces(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			_ = j.Set(baseline("a.dwg", 1))
			_ = j.Set(baseline("a.dwg", 2))

			all, err := j.All()
			if err != nil {
				t.Fatalf("All() error = %v", err)
			}
			if len(all) != 1 || all[0].Version != 2 {
				t.Errorf("All() = %+v, want one entry at v2", all)
			}
		})
	}
}

func TestJournal_DeleteAndAll(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range []string{"b.dwg", "a.dwg", "c/d.dwg"} {
				if err := j.Set(baseline(p, 1)); err != nil {
					t.Fatalf("Set(%s) error = %v", p, err)
				}
			}
			if err := j.Delete("b.dwg"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := j.Delete("never-there.dwg"); err != nil {
				t.Fatalf("Delete(missing) error = %v", err)
			}

			all, err := j.All()
			if err != nil {
				t.Fatalf("All() error = %v", err)
			}
			want := []string{"a.dwg", "c/d.dwg"}
			if len(all) != len(want) {
				t.Fatalf("len(All()) = %d, want %d", len(all), len(want))
			}
			for i, p := range want {
				if all[i].RelativePath != p {
					t.Errorf("All()[%d] = %q, want %q", i, all[i].RelativePath, p)
				}
			}
		})
	}
}

func TestJournal_RejectsInvalid(t *testing.T) {
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			if err := j.Set(nil); err == nil {
				t.Error("Set(nil) expected error")
			}
			if err := j.Set(&pdm.Baseline{}); err == nil {
				t.Error("Set(empty path) expected error")
			}
		})
	}
}

func TestSQLiteJournal_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := OpenSQLiteJournalDir(dir, nil)
	if err != nil {
		t.Fatalf("OpenSQLiteJournalDir() error = %v", err)
	}
	if err := j.Set(baseline("asm/top.sldasm", 7)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	j.Close()

	if _, err := os.Stat(filepath.Join(dir, JournalFile)); err != nil {
		t.Fatalf("journal file missing: %v", err)
	}

	j, err = OpenSQLiteJournalDir(dir, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j.Close()

	got, err := j.Get("asm/top.sldasm")
	if err != nil || got == nil || got.Version != 7 {
		t.Fatalf("Get() after reopen = %+v, %v", got, err)
	}
}

func TestNewJournalFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.JournalConfig
		wantErr bool
	}{
		{"memory", config.JournalConfig{Type: "memory"}, false},
		{"sqlite", config.JournalConfig{Type: "sqlite", DataDir: t.TempDir()}, false},
		{"sqlite without dir", config.JournalConfig{Type: "sqlite"}, true},
		{"unknown", config.JournalConfig{Type: "etcd"}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j, closeFn, err := NewJournalFromConfig(tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewJournalFromConfig() error = %v", err)
			}
			defer closeFn()
			if j == nil {
				t.Fatal("journal is nil")
			}
		})
	}
}
