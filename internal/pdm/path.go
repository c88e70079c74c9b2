package pdm

import (
	"fmt"
	"path"
	"strings"
)

// Vault paths are forward-slash, relative to the vault root, and never
// contain "." or ".." segments. Conversion to OS paths happens only in the
// filesystem manager.

// NormalizePath cleans a user-supplied relative path into canonical form.
// The vault root itself is the empty string.
func NormalizePath(raw string) (string, error) {
	p := strings.ReplaceAll(raw, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q must be relative to the vault root", raw)
	}
	p = path.Clean(p)
	if p == "." {
		return "", nil
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path %q escapes the vault root", raw)
	}
	return p, nil
}

// IsWithin reports whether p is folder itself or lies beneath it.
func IsWithin(p, folder string) bool {
	if folder == "" {
		return true
	}
	return p == folder || strings.HasPrefix(p, folder+"/")
}

// ParentFolders returns every ancestor folder of p, nearest first,
// excluding the vault root.
func ParentFolders(p string) []string {
	var out []string
	for dir := path.Dir(p); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		out = append(out, dir)
	}
	return out
}

// BackupName derives the backup copy name for p: "a/partA.sldprt" becomes
// "a/partA_backup.sldprt"; attempt n > 1 yields "a/partA_backup2.sldprt".
func BackupName(p string, attempt int) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// Dotfile such as ".config": treat the whole name as the stem.
		stem, ext = base, ""
	}
	suffix := "_backup"
	if attempt > 1 {
		suffix = fmt.Sprintf("_backup%d", attempt)
	}
	return dir + stem + suffix + ext
}
