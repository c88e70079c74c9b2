package staging

import (
	"cadvault/internal/pdm"
)

// queueFileVersion is bumped whenever the on-disk layout changes.
const queueFileVersion = 1

// queueFile is the on-disk form of the queue.
type queueFile struct {
	Version int                 `json:"version"`
	Entries []pdm.StagedCheckin `json:"entries"`
}

// withoutPath returns entries minus the entry for relativePath, and
// whether one was removed.
func withoutPath(entries []pdm.StagedCheckin, relativePath string) ([]pdm.StagedCheckin, bool) {
	out := entries[:0:0]
	removed := false
	for _, e := range entries {
		if e.RelativePath == relativePath {
			removed = true
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

func findPath(entries []pdm.StagedCheckin, relativePath string) *pdm.StagedCheckin {
	for i := range entries {
		if entries[i].RelativePath == relativePath {
			e := entries[i]
			return &e
		}
	}
	return nil
}
