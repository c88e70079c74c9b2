package pdm

// FolderSync is whether a folder has something to push or pull.
type FolderSync uint8

const (
	FolderSynced FolderSync = iota
	FolderUnsynced
)

func (s FolderSync) String() string {
	if s == FolderUnsynced {
		return "unsynced"
	}
	return "synced"
}

// FolderColor is the display color of a folder.
type FolderColor uint8

const (
	ColorGrey FolderColor = iota
	ColorGreen
	ColorOrange
	ColorRed
)

func (c FolderColor) String() string {
	switch c {
	case ColorGrey:
		return "grey"
	case ColorGreen:
		return "green"
	case ColorOrange:
		return "orange"
	case ColorRed:
		return "red"
	}
	return "unknown"
}

// FolderFlags summarize the descendants of a folder.
type FolderFlags struct {
	HasLocalOnly       bool
	HasServerOnly      bool
	HasSynced          bool
	HasMineCheckouts   bool
	HasOthersCheckouts bool
}

// FolderState is the derived state of one folder.
type FolderState struct {
	Path  string
	Sync  FolderSync
	Color FolderColor
	Flags FolderFlags
	Files int
}

// FolderFlagsFor computes flags over the non-directory records beneath
// folder.
func FolderFlagsFor(records []*FileRecord, folder, currentUser string) (FolderFlags, int) {
	var f FolderFlags
	n := 0
	for _, rec := range records {
		if rec.IsDirectory || rec.RelativePath == folder || !IsWithin(rec.RelativePath, folder) {
			continue
		}
		n++
		switch rec.Status() {
		case StatusAddedLocal:
			f.HasLocalOnly = true
		case StatusCloudOnly:
			f.HasServerOnly = true
		case StatusSynced:
			f.HasSynced = true
		case StatusIgnored, StatusModifiedLocal, StatusOutdated, StatusMoved, StatusDeletedRemote:
		}
		holder := rec.LockHolder()
		switch {
		case holder.IsZero():
		case holder.UserID == currentUser:
			f.HasMineCheckouts = true
		default:
			f.HasOthersCheckouts = true
		}
	}
	return f, n
}

// AggregateFlags applies the folder priority rules.
func AggregateFlags(f FolderFlags) (FolderSync, FolderColor) {
	switch {
	case f.HasLocalOnly:
		return FolderUnsynced, ColorGrey
	case f.HasServerOnly:
		return FolderUnsynced, ColorGrey
	case f.HasSynced:
		return FolderSynced, ColorGreen
	case f.HasMineCheckouts:
		return FolderSynced, ColorOrange
	case f.HasOthersCheckouts:
		return FolderSynced, ColorRed
	}
	// Empty or fully ignored.
	return FolderUnsynced, ColorGrey
}

// AggregateFolder derives the state of folder from records. The result is
// computed on every call and never cached.
func AggregateFolder(records []*FileRecord, folder, currentUser string) FolderState {
	flags, n := FolderFlagsFor(records, folder, currentUser)
	sync, color := AggregateFlags(flags)
	return FolderState{Path: folder, Sync: sync, Color: color, Flags: flags, Files: n}
}

// AggregateAll derives the state of every folder that has a descendant
// record.
func AggregateAll(records []*FileRecord, currentUser string) map[string]FolderState {
	folders := make(map[string]struct{})
	for _, rec := range records {
		if rec.IsDirectory {
			folders[rec.RelativePath] = struct{}{}
		}
		for _, dir := range ParentFolders(rec.RelativePath) {
			folders[dir] = struct{}{}
		}
	}
	out := make(map[string]FolderState, len(folders))
	for dir := range folders {
		out[dir] = AggregateFolder(records, dir, currentUser)
	}
	return out
}
