package pdm

import (
	"slices"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "a/b.prt", want: "a/b.prt"},
		{raw: `a\b.prt`, want: "a/b.prt"},
		{raw: "./a//b/../c.prt", want: "a/c.prt"},
		{raw: ".", want: ""},
		{raw: "", want: ""},
		{raw: "a/", want: "a"},
		{raw: "/etc/passwd", wantErr: true},
		{raw: "..", wantErr: true},
		{raw: "a/../../b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := NormalizePath(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizePath(%q) = %q, want error", tt.raw, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, %v, want %q", tt.raw, got, err, tt.want)
			}
		})
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		p, folder string
		want      bool
	}{
		{"a/b.prt", "", true},
		{"a/b.prt", "a", true},
		{"a", "a", true},
		{"ab/c.prt", "a", false},
		{"a/b/c.prt", "a/b", true},
		{"b.prt", "a", false},
	}
	for _, tt := range tests {
		if got := IsWithin(tt.p, tt.folder); got != tt.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tt.p, tt.folder, got, tt.want)
		}
	}
}

func TestParentFolders(t *testing.T) {
	got := ParentFolders("a/b/c/d.prt")
	want := []string{"a/b/c", "a/b", "a"}
	if !slices.Equal(got, want) {
		t.Errorf("ParentFolders() = %v, want %v", got, want)
	}
	if got := ParentFolders("top.prt"); len(got) != 0 {
		t.Errorf("ParentFolders(top.prt) = %v, want none", got)
	}
}

func TestBackupName(t *testing.T) {
	tests := []struct {
		p       string
		attempt int
		want    string
	}{
		{"a/partA.sldprt", 1, "a/partA_backup.sldprt"},
		{"a/partA.sldprt", 2, "a/partA_backup2.sldprt"},
		{"partA.sldprt", 3, "partA_backup3.sldprt"},
		{"notes", 1, "notes_backup"},
		{"cfg/.settings", 1, "cfg/.settings_backup"},
		{"asm/top.v2.sldasm", 1, "asm/top.v2_backup.sldasm"},
	}
	for _, tt := range tests {
		if got := BackupName(tt.p, tt.attempt); got != tt.want {
			t.Errorf("BackupName(%q, %d) = %q, want %q", tt.p, tt.attempt, got, tt.want)
		}
	}
}

func TestExpandTargets(t *testing.T) {
	records := []*FileRecord{
		{RelativePath: "asm", IsDirectory: true},
		{RelativePath: "asm/top.sldasm"},
		{RelativePath: "asm/parts", IsDirectory: true},
		{RelativePath: "asm/parts/a.sldprt"},
		{RelativePath: "asm/parts/b.sldprt"},
		{RelativePath: "loose.sldprt"},
	}

	tests := []struct {
		name     string
		patterns []string
		want     []string
		wantErr  bool
	}{
		{name: "file", patterns: []string{"loose.sldprt"}, want: []string{"loose.sldprt"}},
		{name: "folder", patterns: []string{"asm/parts"}, want: []string{"asm/parts/a.sldprt", "asm/parts/b.sldprt"}},
		{name: "vault root", patterns: []string{"."}, want: []string{"asm/top.sldasm", "asm/parts/a.sldprt", "asm/parts/b.sldprt", "loose.sldprt"}},
		{name: "glob", patterns: []string{"**/*.sldprt"}, want: []string{"asm/parts/a.sldprt", "asm/parts/b.sldprt", "loose.sldprt"}},
		{name: "duplicates collapse", patterns: []string{"asm/parts/a.sldprt", "asm/parts"}, want: []string{"asm/parts/a.sldprt", "asm/parts/b.sldprt"}},
		{name: "unknown file passes through", patterns: []string{"new.sldprt"}, want: []string{"new.sldprt"}},
		{name: "glob without matches", patterns: []string{"*.step"}, wantErr: true},
		{name: "escaping path", patterns: []string{"../x.sldprt"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandTargets(records, tt.patterns)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ExpandTargets(%v) = %v, want error", tt.patterns, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandTargets(%v) error = %v", tt.patterns, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ExpandTargets(%v) = %v, want %v", tt.patterns, got, tt.want)
			}
		})
	}
}
