package pdm

import "fmt"

// DiffStatus is the sync state of one file relative to the server.
// The set is closed; switches over it are exhaustive.
type DiffStatus uint8

const (
	StatusSynced DiffStatus = iota
	StatusAddedLocal
	StatusIgnored
	StatusCloudOnly
	StatusModifiedLocal
	StatusOutdated
	StatusMoved
	StatusDeletedRemote
)

// AllStatuses lists every DiffStatus in declaration order.
var AllStatuses = []DiffStatus{
	StatusSynced,
	StatusAddedLocal,
	StatusIgnored,
	StatusCloudOnly,
	StatusModifiedLocal,
	StatusOutdated,
	StatusMoved,
	StatusDeletedRemote,
}

func (s DiffStatus) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusAddedLocal:
		return "addedLocal"
	case StatusIgnored:
		return "ignored"
	case StatusCloudOnly:
		return "cloudOnly"
	case StatusModifiedLocal:
		return "modifiedLocal"
	case StatusOutdated:
		return "outdated"
	case StatusMoved:
		return "moved"
	case StatusDeletedRemote:
		return "deletedRemote"
	}
	return fmt.Sprintf("DiffStatus(%d)", uint8(s))
}

// ParseDiffStatus is the inverse of String.
func ParseDiffStatus(s string) (DiffStatus, error) {
	for _, st := range AllStatuses {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown diff status %q", s)
}

// ClassifyInput is the fact tuple the classifier decides on.
type ClassifyInput struct {
	LocalExists              bool
	ServerExists             bool
	ServerRemovedSincePull   bool
	PathChangedIDMatches     bool
	ContentHashesMatch       bool
	CheckedOut               bool
	IgnoreMatch              bool
	LocalVersionKnown        int64
	ServerVersion            int64
	HasUncommittedLocalEdits bool
}

// Classify maps a fact tuple to exactly one status. The first matching
// rule wins. It performs no I/O.
func Classify(in ClassifyInput) DiffStatus {
	switch {
	case in.LocalExists && !in.ServerExists && in.IgnoreMatch:
		return StatusIgnored
	case in.LocalExists && !in.ServerExists:
		return StatusAddedLocal
	case !in.LocalExists && in.ServerExists:
		return StatusCloudOnly
	case !in.LocalExists && !in.ServerExists:
		// Stale entry with nothing on either side.
		return StatusDeletedRemote
	case in.ServerRemovedSincePull:
		return StatusDeletedRemote
	case in.PathChangedIDMatches:
		return StatusMoved
	case in.ServerVersion > in.LocalVersionKnown && !in.HasUncommittedLocalEdits:
		return StatusOutdated
	case in.ContentHashesMatch && !in.CheckedOut:
		return StatusSynced
	}
	// Checked out (edited or not) or diverged without a lock.
	return StatusModifiedLocal
}

// BuildClassifyInput derives the classifier facts from a record.
func BuildClassifyInput(rec *FileRecord) ClassifyInput {
	in := ClassifyInput{
		LocalExists: rec.Local != nil,
		IgnoreMatch: rec.Ignored,
	}
	if rec.Server != nil {
		in.ServerExists = true
		in.ServerRemovedSincePull = rec.Server.Deleted
		in.ServerVersion = rec.Server.Version
		in.PathChangedIDMatches = rec.MovedTo != "" && rec.MovedTo != rec.RelativePath
		in.CheckedOut = !rec.LockHolder().IsZero()
		if rec.Local != nil {
			in.ContentHashesMatch = rec.Local.ContentHash == rec.Server.ContentHash
		}
	}
	switch {
	case rec.Baseline != nil:
		in.LocalVersionKnown = rec.Baseline.Version
	case in.ContentHashesMatch:
		// Identical bytes with no journal entry are as good as a pull.
		in.LocalVersionKnown = in.ServerVersion
	}
	in.HasUncommittedLocalEdits = len(rec.PendingLocalEdits) > 0
	if rec.Local != nil {
		switch {
		case rec.Baseline != nil:
			if rec.Local.ContentHash != rec.Baseline.ContentHash {
				in.HasUncommittedLocalEdits = true
			}
		case rec.Server != nil && !in.ContentHashesMatch:
			// No baseline and the bytes differ: nothing proves they are unedited.
			in.HasUncommittedLocalEdits = true
		}
	}
	return in
}
