package pdm

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandTargets turns user patterns into file paths known to the table.
// A pattern may be a file path, a folder (every file beneath it) or a
// doublestar glob such as "assemblies/**/*.sldasm". A plain file path that
// is not in the table is passed through so commands can report on it.
func ExpandTargets(records []*FileRecord, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, raw := range patterns {
		if doublestar.ValidatePattern(raw) && hasMeta(raw) {
			matched := false
			for _, rec := range records {
				if rec.IsDirectory {
					continue
				}
				ok, err := doublestar.Match(raw, rec.RelativePath)
				if err != nil {
					return nil, fmt.Errorf("matching %q: %w", raw, err)
				}
				if ok {
					matched = true
					add(rec.RelativePath)
				}
			}
			if !matched {
				return nil, fmt.Errorf("pattern %q matched no files", raw)
			}
			continue
		}

		p, err := NormalizePath(raw)
		if err != nil {
			return nil, err
		}
		folder := false
		for _, rec := range records {
			if rec.IsDirectory || rec.RelativePath == p || !IsWithin(rec.RelativePath, p) {
				continue
			}
			folder = true
			add(rec.RelativePath)
		}
		if !folder && p != "" {
			add(p)
		}
	}
	return out, nil
}

func hasMeta(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
