package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cadvault/internal/config"
	"cadvault/internal/encryption"
	"cadvault/internal/fs"
	"cadvault/internal/journal"
	"cadvault/internal/pdm"
	"cadvault/internal/remote"
	"cadvault/internal/server"
	"cadvault/internal/staging"
)

// App is the application layer between the CLI and the engine. It
// constructs all dependencies from config, accepts raw paths from the
// command line and answers engine confirmations through a Prompter.
type App struct {
	cfg      *config.Config
	op       *Operation
	slog     *slog.Logger
	logger   pdm.Logger
	engine   *pdm.Engine
	prompter Prompter

	stop    context.CancelFunc
	closers []func() error
}

// Options tune how an App is built.
type Options struct {
	// Verbose mirrors info and debug logs to stderr.
	Verbose bool
	// SkipRefresh leaves the file table empty until the first Refresh.
	SkipRefresh bool
}

// NewApp creates a fully wired App from the given config and performs an
// initial refresh. The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, op *Operation, prompter Prompter, opts Options) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	role, err := pdm.ParseRole(cfg.Role)
	if err != nil {
		return nil, err
	}

	l, logCloser, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a = &App{cfg: cfg, op: op, slog: l, logger: &slogAdapter{l: l}, prompter: prompter}
	a.closers = append(a.closers, logCloser.Close)
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	session := pdm.Session{
		OrgID:      cfg.OrgID,
		UserID:     cfg.UserID,
		DeviceID:   cfg.DeviceID,
		DeviceName: cfg.DeviceName,
		Role:       role,
	}

	srv, err := a.openServer(ctx, session)
	if err != nil {
		return nil, err
	}

	fsmgr, err := fs.NewOSFilesystemManager(cfg.VaultRoot, cfg.Filesystem.Ignore, cfg.Filesystem.HashCacheSize, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening vault root: %w", err)
	}

	queue, err := staging.NewStagedQueueFromConfig(cfg.Staging, pdm.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("creating staged queue: %w", err)
	}

	j, closeJournal, err := journal.NewJournalFromConfig(cfg.Journal, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	a.closers = append(a.closers, closeJournal)

	a.engine = pdm.NewEngine(pdm.Options{
		Session:           session,
		PollInterval:      time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxNetworkRetries: cfg.MaxNetworkRetries,
		ConfirmTimeout:    time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
	}, srv, fsmgr, queue, j, a.logger, pdm.RealClock{}, pdm.UUIDGenerator{})

	answerCtx, stop := context.WithCancel(context.Background())
	a.stop = stop
	go a.answer(answerCtx)

	if !opts.SkipRefresh {
		if err := a.engine.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("initial refresh: %w", err)
		}
	}
	a.logger.Debug("app ready", "op", op.Name, "params", op.Params, "server", cfg.Server.Type, "online", a.engine.Online())
	return a, nil
}

// openServer selects the authoritative server: a remote cvserver over
// HTTP, or an in-process server over a local record store and vault.
func (a *App) openServer(ctx context.Context, session pdm.Session) (pdm.Server, error) {
	cfg := a.cfg
	switch cfg.Server.Type {
	case "http":
		identity := pdm.Requestor{UserID: session.UserID, DeviceID: session.DeviceID, Role: session.Role}
		timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
		c, err := remote.New(cfg.Server.URL, timeout, identity, a.logger)
		if err != nil {
			return nil, fmt.Errorf("creating server client: %w", err)
		}
		return c, nil
	case "sqlite", "memory", "":
		storeType := cfg.Server.Type
		if storeType == "" {
			storeType = "sqlite"
		}
		cipher, err := encryption.OpenCipher(cfg.Encryption, a.prompter.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("opening encryption: %w", err)
		}
		s, err := server.Open(ctx, server.Options{
			StoreType: storeType,
			DataDir:   cfg.Server.DataDir,
			OrgID:     cfg.OrgID,
			Admins:    cfg.Server.Admins,
			Vault:     cfg.Vault,
			Cipher:    cipher,
		}, pdm.RealClock{}, pdm.UUIDGenerator{}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown server type: %q", cfg.Server.Type)
	}
}

// answer relays engine confirmations to the prompter until ctx ends. A
// prompt still blocked on input when ctx ends is abandoned.
func (a *App) answer(ctx context.Context) {
	pipeline := a.engine.Pipeline()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-pipeline.Requests():
			ok, err := a.prompter.Confirm(req.Prompt, req.Items)
			if err != nil {
				a.logger.Warn("reading confirmation", "command", req.Command, "err", err)
				ok = false
			}
			if err := pipeline.Respond(req.ID, ok); err != nil {
				a.logger.Warn("answering confirmation", "command", req.Command, "err", err)
			}
		}
	}
}

// Engine returns the underlying engine.
func (a *App) Engine() *pdm.Engine { return a.engine }

// Logger returns the structured logger of this invocation.
func (a *App) Logger() *slog.Logger { return a.slog }

// VaultPath converts a command-line path into a vault-relative path.
// Absolute paths must lie under the vault root. Relative paths are taken
// relative to the working directory when it lies inside the vault, and
// relative to the vault root otherwise.
func (a *App) VaultPath(raw string) (string, error) {
	root := a.cfg.VaultRoot
	p := raw
	if !filepath.IsAbs(p) {
		if cwd, err := os.Getwd(); err == nil && within(root, cwd) {
			p = filepath.Join(cwd, p)
		}
	}
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(root, p)
		if err != nil || !within(root, p) {
			return "", fmt.Errorf("%s is outside the vault root %s", raw, root)
		}
		p = rel
	}
	p = filepath.ToSlash(p)
	if p == "." {
		return "", nil
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (a *App) vaultPaths(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		p, err := a.VaultPath(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Execute runs a command against the given raw targets.
func (a *App) Execute(ctx context.Context, name string, args pdm.Args) (*pdm.BatchResult, error) {
	targets, err := a.vaultPaths(args.Targets)
	if err != nil {
		return nil, err
	}
	args.Targets = targets
	if raw := args.Destination; raw != "" {
		if args.Destination, err = a.VaultPath(raw); err != nil {
			return nil, err
		}
		// A trailing slash marks "move into this folder".
		if args.Destination != "" && strings.HasSuffix(filepath.ToSlash(raw), "/") && !strings.HasSuffix(args.Destination, "/") {
			args.Destination += "/"
		}
	}
	res, err := a.engine.Execute(ctx, name, args)
	if err == nil && res != nil {
		err = res.Err()
	}
	return res, err
}

// Undo reverses the last undoable command of this process.
func (a *App) Undo(ctx context.Context) (*pdm.BatchResult, error) {
	return a.engine.Pipeline().Undo(ctx)
}

// Status returns the records at or beneath rawPath, sorted by path, plus
// the state of every folder they live in.
func (a *App) Status(rawPath string) ([]*pdm.FileRecord, map[string]pdm.FolderState, error) {
	folder, err := a.VaultPath(rawPath)
	if err != nil {
		return nil, nil, err
	}
	var out []*pdm.FileRecord
	for _, rec := range a.engine.Snapshot() {
		if pdm.IsWithin(rec.RelativePath, folder) {
			out = append(out, rec)
		}
	}
	folders := a.engine.Folders()
	for f := range folders {
		if !pdm.IsWithin(f, folder) {
			delete(folders, f)
		}
	}
	return out, folders, nil
}

// Log returns the check-in history of one file.
func (a *App) Log(ctx context.Context, rawPath string) ([]*pdm.Revision, error) {
	p, err := a.VaultPath(rawPath)
	if err != nil {
		return nil, err
	}
	return a.engine.History(ctx, p)
}

// Queue returns the staged check-ins and the ones awaiting resolution.
func (a *App) Queue() ([]pdm.StagedCheckin, []*pdm.Conflict, error) {
	staged, err := a.engine.Staged()
	if err != nil {
		return nil, nil, err
	}
	return staged, a.engine.Resolver().Conflicts(), nil
}

// Resolve applies a named resolution to a conflicted staged entry.
func (a *App) Resolve(ctx context.Context, rawPath, resolution string) error {
	p, err := a.VaultPath(rawPath)
	if err != nil {
		return err
	}
	res, err := pdm.ParseResolution(resolution)
	if err != nil {
		return err
	}
	return a.engine.Resolve(ctx, p, res)
}

// Sync refreshes the table and replays any staged check-ins.
func (a *App) Sync(ctx context.Context) error {
	return a.engine.Refresh(ctx)
}

// Watch polls the server until ctx ends.
func (a *App) Watch(ctx context.Context) error {
	err := a.engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the confirmation relay and releases every resource. err is
// the outcome of the operation and is recorded in the log.
func (a *App) Close(opErr error) error {
	a.op.Finish(opErr)
	a.logger.Info("operation finished", "op", a.op.Name, "status", a.op.Status)
	return a.closeAll()
}

func (a *App) closeAll() error {
	if a.stop != nil {
		a.stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatItems writes one line per item of res: "ok", "FAILED" or the note.
func FormatItems(w io.Writer, res *pdm.BatchResult) {
	if res == nil {
		return
	}
	for _, it := range res.Items {
		switch {
		case it.Err != nil:
			fmt.Fprintf(w, "FAILED  %s: %v\n", it.Path, it.Err)
		case it.Note != "":
			fmt.Fprintf(w, "ok      %s (%s)\n", it.Path, it.Note)
		default:
			fmt.Fprintf(w, "ok      %s\n", it.Path)
		}
	}
	if res.Aborted {
		fmt.Fprintf(w, "%s aborted\n", res.Command)
	}
}
