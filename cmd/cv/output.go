package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"cadvault/internal/app"
	"cadvault/internal/pdm"
)

func printStatus(w io.Writer, a *app.App, target string, foldersOnly bool) error {
	recs, folders, err := a.Status(target)
	if err != nil {
		return err
	}
	if !a.Engine().Online() {
		fmt.Fprintln(w, "Server unreachable; showing last known state.")
	}

	if foldersOnly {
		writeFolders(w, folders)
		return nil
	}

	if len(recs) == 0 {
		fmt.Fprintln(w, "No files found.")
		return nil
	}
	writeRecords(w, recs)
	return nil
}

func writeRecords(w io.Writer, recs []*pdm.FileRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tVERSION\tSIZE\tCHECKED OUT\tPATH")
	for _, rec := range recs {
		if rec.IsDirectory {
			continue
		}
		path := rec.RelativePath
		if rec.MovedTo != "" {
			path += " -> " + rec.MovedTo
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.Status(), version(rec), size(rec), lockInfo(rec), path)
	}
	tw.Flush()
}

func version(rec *pdm.FileRecord) string {
	if rec.Server == nil || rec.Server.Version == 0 {
		return "-"
	}
	return fmt.Sprintf("v%d (%s)", rec.Server.Version, pdm.RevisionLabel(rec.Server.Version))
}

func size(rec *pdm.FileRecord) string {
	switch {
	case rec.Local != nil:
		return humanize.Bytes(uint64(rec.Local.Size))
	case rec.Server != nil:
		return humanize.Bytes(uint64(rec.Server.Size))
	}
	return "-"
}

func lockInfo(rec *pdm.FileRecord) string {
	h := rec.LockHolder()
	if h.IsZero() {
		if rec.LockPending() {
			return "(releasing)"
		}
		return "-"
	}
	s := h.UserID + "@" + h.DeviceID
	if rec.Server != nil && !rec.Server.CheckedOutAt.IsZero() {
		s += " " + humanize.Time(rec.Server.CheckedOutAt)
	}
	if rec.LockPending() {
		s += " (pending)"
	}
	return s
}

func writeFolders(w io.Writer, folders map[string]pdm.FolderState) {
	paths := make([]string, 0, len(folders))
	for p := range folders {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLOR\tSYNC\tFILES\tFOLDER")
	for _, p := range paths {
		f := folders[p]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.Color, f.Sync, f.Files, p)
	}
	tw.Flush()
}

func printLog(ctx context.Context, w io.Writer, a *app.App, target string) error {
	revs, err := a.Log(ctx, target)
	if err != nil {
		return err
	}
	if len(revs) == 0 {
		fmt.Fprintln(w, "No check-in history.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range revs {
		fmt.Fprintf(tw, "v%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Version,
			r.Revision,
			r.CheckedInAt.Local().Format("2006-01-02 15:04:05"),
			r.CheckedInBy,
			humanize.Bytes(uint64(r.Size)),
			r.Comment,
		)
	}
	return tw.Flush()
}

func printQueue(w io.Writer, a *app.App) error {
	staged, conflicts, err := a.Queue()
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		fmt.Fprintln(w, "No staged check-ins.")
		return nil
	}

	conflicted := make(map[string]*pdm.Conflict, len(conflicts))
	for _, c := range conflicts {
		conflicted[c.Entry.RelativePath] = c
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tBASELINE\tQUEUED\tPATH\tDETAIL")
	for _, s := range staged {
		state, detail := "staged", s.Comment
		if c, ok := conflicted[s.RelativePath]; ok {
			state = c.State.String()
			if c.Server != nil {
				detail = fmt.Sprintf("server is at v%d", c.Server.Version)
			}
			if c.Err != nil {
				detail = c.Err.Error()
			}
		}
		fmt.Fprintf(tw, "%s\tv%d\t%s\t%s\t%s\n", state, s.BaselineServerVersion, humanize.Time(s.QueuedAt), s.RelativePath, detail)
	}
	return tw.Flush()
}
