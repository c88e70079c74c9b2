package fs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cadvault/internal/pdm"
)

func sha(s string) string {
	h, _, _ := pdm.HashContent(strings.NewReader(s))
	return h
}

func newManager(t *testing.T, ignore ...string) (*OSFilesystemManager, string) {
	t.Helper()
	root := t.TempDir()
	m, err := NewOSFilesystemManager(root, ignore, 16, nil)
	if err != nil {
		t.Fatalf("NewOSFilesystemManager() error = %v", err)
	}
	return m, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewOSFilesystemManager_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewOSFilesystemManager("relative/root", nil, 0, nil); err == nil {
		t.Error("expected error for relative root")
	}
	if _, err := NewOSFilesystemManager(filepath.Join(t.TempDir(), "missing"), nil, 0, nil); err == nil {
		t.Error("expected error for missing root")
	}

	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewOSFilesystemManager(file, nil, 0, nil); err == nil {
		t.Error("expected error for file root")
	}
}

func TestScan(t *testing.T) {
	t.Parallel()
	m, root := newManager(t, "*.tmp", "~$*")
	writeFile(t, root, "parts/bracket.sldprt", "bracket")
	writeFile(t, root, "parts/~$bracket.sldprt", "owner")
	writeFile(t, root, "asm/top.sldasm", "top")
	writeFile(t, root, "scratch.tmp", "x")

	files, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	got := make(map[string]*pdm.LocalFile)
	for _, f := range files {
		got[f.RelativePath] = f
	}
	for _, want := range []string{"asm", "asm/top.sldasm", "parts", "parts/bracket.sldprt", "parts/~$bracket.sldprt", "scratch.tmp"} {
		if got[want] == nil {
			t.Errorf("Scan() missing %q", want)
		}
	}
	if !got["parts"].IsDir {
		t.Error("parts should be a directory")
	}
	if got["parts/bracket.sldprt"].ContentHash != sha("bracket") {
		t.Errorf("hash = %q, want %q", got["parts/bracket.sldprt"].ContentHash, sha("bracket"))
	}
	if !m.IsIgnored("parts/~$bracket.sldprt") || !m.IsIgnored("scratch.tmp") {
		t.Error("owner and temp files should be ignored")
	}
	if m.IsIgnored("parts/bracket.sldprt") {
		t.Error("part file should not be ignored")
	}
}

func TestScan_IgnoredDirectoryNotDescended(t *testing.T) {
	t.Parallel()
	m, root := newManager(t, "exports/")
	writeFile(t, root, "exports/a.step", "a")
	writeFile(t, root, "keep.dwg", "k")

	files, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	for _, f := range files {
		if strings.HasPrefix(f.RelativePath, "exports") {
			t.Errorf("Scan() returned %q inside an ignored directory", f.RelativePath)
		}
	}
}

func TestScan_ReadsIgnoreFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, IgnoreFile, "*.log\n")
	m, err := NewOSFilesystemManager(root, nil, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsIgnored("build.log") {
		t.Error("pattern from .cvignore not applied")
	}
}

func TestScan_Cancelled(t *testing.T) {
	t.Parallel()
	m, root := newManager(t)
	writeFile(t, root, "a.dwg", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Scan(ctx); err == nil {
		t.Error("Scan() expected error for cancelled context")
	}
}

func TestStat(t *testing.T) {
	t.Parallel()
	m, root := newManager(t)
	writeFile(t, root, "a/b.dwg", "drawing")

	lf, err := m.Stat("a/b.dwg")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if lf.Size != int64(len("drawing")) || lf.ContentHash != sha("drawing") {
		t.Errorf("Stat() = %+v", lf)
	}

	missing, err := m.Stat("a/none.dwg")
	if err != nil || missing != nil {
		t.Errorf("Stat(missing) = %+v, %v; want nil, nil", missing, err)
	}

	dir, err := m.Stat("a")
	if err != nil || dir == nil || !dir.IsDir {
		t.Errorf("Stat(dir) = %+v, %v", dir, err)
	}

	if _, err := m.Stat("../outside"); err == nil {
		t.Error("Stat() expected error for escaping path")
	}
	if _, err := m.Stat(""); err == nil {
		t.Error("Stat() expected error for vault root")
	}
}

func TestStat_HashCacheInvalidatedOnChange(t *testing.T) {
	t.Parallel()
	m, root := newManager(t)
	writeFile(t, root, "a.dwg", "one")

	first, err := m.Stat("a.dwg")
	if err != nil {
		t.Fatal(err)
	}

	abs := filepath.Join(root, "a.dwg")
	if err := os.WriteFile(abs, []byte("two!"), 0644); err != nil {
		t.Fatal(err)
	}
	later := first.ModTime.Add(2 * time.Second)
	if err := os.Chtimes(abs, later, later); err != nil {
		t.Fatal(err)
	}

	second, err := m.Stat("a.dwg")
	if err != nil {
		t.Fatal(err)
	}
	if second.ContentHash != sha("two!") {
		t.Errorf("hash after change = %q, want %q", second.ContentHash, sha("two!"))
	}
}

func TestWrite(t *testing.T) {
	t.Parallel()
	m, root := newManager(t)

	lf, err := m.Write("new/dir/part.sldprt", bytes.NewBufferString("content"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if lf.ContentHash != sha("content") || lf.Size != 7 {
		t.Errorf("Write() = %+v", lf)
	}

	data, err := os.ReadFile(filepath.Join(root, "new", "dir", "part.sldprt"))
	if err != nil || string(data) != "content" {
		t.Fatalf("file content = %q, %v", data, err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "new", "dir"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files after Write: %d entries", len(entries))
	}

	if _, err := m.Write("new/dir/part.sldprt", bytes.NewBufferString("replaced")); err != nil {
		t.Fatalf("overwrite error = %v", err)
	}
	r, err := m.Open("new/dir/part.sldprt")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "replaced" {
		t.Errorf("content after overwrite = %q", got)
	}
}

func TestCopyRenameRemove(t *testing.T) {
	t.Parallel()
	m, root := newManager(t)
	writeFile(t, root, "a.dwg", "alpha")

	if err := m.Copy("a.dwg", "backup/a_backup.dwg"); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if lf, _ := m.Stat("backup/a_backup.dwg"); lf == nil || lf.ContentHash != sha("alpha") {
		t.Errorf("copied file = %+v", lf)
	}

	if err := m.Rename("a.dwg", "moved/a.dwg"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if lf, _ := m.Stat("a.dwg"); lf != nil {
		t.Error("source still exists after Rename")
	}
	if lf, _ := m.Stat("moved/a.dwg"); lf == nil {
		t.Error("destination missing after Rename")
	}

	if err := m.Remove("moved/a.dwg"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := m.Remove("moved/a.dwg"); err != nil {
		t.Errorf("Remove(missing) error = %v", err)
	}
}
