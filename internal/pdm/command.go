package pdm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Args are the inputs of a command invocation.
type Args struct {
	Targets        []string
	Comment        string
	Configurations []string
	Destination    string
	KeepCheckedOut bool
	// AssumeYes answers every confirmation with yes without prompting.
	AssumeYes bool
}

// ItemResult is the outcome of a command for one file.
type ItemResult struct {
	Path string
	Note string
	Err  error
}

// BatchResult collects per-file outcomes. A command never fails as a
// whole because one file failed.
type BatchResult struct {
	Command string
	Items   []ItemResult
	Aborted bool
}

// OK records a success for path.
func (r *BatchResult) OK(path, note string) {
	r.Items = append(r.Items, ItemResult{Path: path, Note: note})
}

// Fail records a failure for path.
func (r *BatchResult) Fail(path string, err error) {
	r.Items = append(r.Items, ItemResult{Path: path, Err: err})
}

// Succeeded returns the items without an error.
func (r *BatchResult) Succeeded() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Err == nil {
			out = append(out, it)
		}
	}
	return out
}

// Failed returns the items with an error.
func (r *BatchResult) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Err joins the per-file errors, or returns nil if every file succeeded.
func (r *BatchResult) Err() error {
	var errs []error
	for _, it := range r.Items {
		if it.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", it.Path, it.Err))
		}
	}
	return errors.Join(errs...)
}

// ConfirmationRequest is a question a command is waiting on.
type ConfirmationRequest struct {
	ID      string
	Command string
	Prompt  string
	Items   []string
}

// Handler implements one command. Handlers plan first, confirm, then
// apply, so a declined confirmation leaves nothing changed.
type Handler func(ctx context.Context, x *Exec) (*BatchResult, error)

// UndoFunc reverses a completed command.
type UndoFunc func(ctx context.Context) (*BatchResult, error)

// Exec is the per-invocation handle passed to a handler.
type Exec struct {
	Command string
	Args    Args

	p        *Pipeline
	undo     UndoFunc
	undoName string
}

// Confirm asks the user a yes/no question and blocks until it is
// answered, the context ends or the confirmation timeout elapses. A
// timeout counts as no. Only one confirmation may be pending at a time;
// a second concurrent one fails with ErrConfirmationPending.
func (x *Exec) Confirm(ctx context.Context, prompt string, items []string) (bool, error) {
	if x.Args.AssumeYes {
		return true, nil
	}
	return x.p.confirm(ctx, x.Command, prompt, items)
}

// OnUndo registers the step that reverses this invocation.
func (x *Exec) OnUndo(name string, fn UndoFunc) {
	x.undoName = name
	x.undo = fn
}

type pendingConfirmation struct {
	req   ConfirmationRequest
	reply chan bool
}

type undoEntry struct {
	name string
	fn   UndoFunc
}

// maxUndo bounds the undo history.
const maxUndo = 20

// Pipeline routes every state-changing command through one place that
// owns the confirmation slot and the undo history.
type Pipeline struct {
	timeout  time.Duration
	ids      IDGenerator
	logger   Logger
	requests chan ConfirmationRequest

	mu       sync.Mutex
	handlers map[string]Handler
	pending  *pendingConfirmation
	history  []undoEntry
}

// NewPipeline creates a pipeline. timeout bounds every confirmation; zero
// means wait until the context ends.
func NewPipeline(timeout time.Duration, ids IDGenerator, logger Logger) *Pipeline {
	return &Pipeline{
		timeout:  timeout,
		ids:      ids,
		logger:   logger,
		requests: make(chan ConfirmationRequest, 1),
		handlers: make(map[string]Handler),
	}
}

// Register adds a command handler under name.
func (p *Pipeline) Register(name string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = h
}

// Commands returns the registered command names.
func (p *Pipeline) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.handlers))
	for n := range p.handlers {
		names = append(names, n)
	}
	return names
}

// Execute runs the named command. An aborted command returns a result
// with Aborted set together with ErrAborted.
func (p *Pipeline) Execute(ctx context.Context, name string, args Args) (*BatchResult, error) {
	p.mu.Lock()
	h, ok := p.handlers[name]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}

	x := &Exec{Command: name, Args: args, p: p}
	p.logger.Debug("executing command", "command", name, "targets", len(args.Targets))
	res, err := h(ctx, x)
	if res == nil {
		res = &BatchResult{Command: name}
	}
	res.Command = name
	if errors.Is(err, ErrAborted) {
		res.Aborted = true
		p.logger.Info("command aborted", "command", name)
		return res, err
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", name, err)
	}

	if x.undo != nil && len(res.Succeeded()) > 0 {
		p.mu.Lock()
		p.history = append(p.history, undoEntry{name: x.undoName, fn: x.undo})
		if len(p.history) > maxUndo {
			p.history = p.history[len(p.history)-maxUndo:]
		}
		p.mu.Unlock()
	}
	p.logger.Info("command finished", "command", name, "ok", len(res.Succeeded()), "failed", len(res.Failed()))
	return res, nil
}

// CanUndo returns the name of the most recent undoable command.
func (p *Pipeline) CanUndo() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return "", false
	}
	return p.history[len(p.history)-1].name, true
}

// Undo reverses the most recent undoable command.
func (p *Pipeline) Undo(ctx context.Context) (*BatchResult, error) {
	p.mu.Lock()
	if len(p.history) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("nothing to undo")
	}
	e := p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	p.mu.Unlock()

	res, err := e.fn(ctx)
	if err != nil {
		return res, fmt.Errorf("undo %s: %w", e.name, err)
	}
	if res != nil {
		res.Command = "undo " + e.name
	}
	return res, nil
}

// Requests delivers each confirmation as it is raised.
func (p *Pipeline) Requests() <-chan ConfirmationRequest { return p.requests }

// Pending returns the confirmation currently waiting, if any.
func (p *Pipeline) Pending() (ConfirmationRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return ConfirmationRequest{}, false
	}
	return p.pending.req, true
}

// Respond answers the pending confirmation with the given id.
func (p *Pipeline) Respond(id string, answer bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || p.pending.req.ID != id {
		return fmt.Errorf("no pending confirmation %q", id)
	}
	select {
	case p.pending.reply <- answer:
	default:
	}
	return nil
}

func (p *Pipeline) confirm(ctx context.Context, command, prompt string, items []string) (bool, error) {
	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return false, ErrConfirmationPending
	}
	pc := &pendingConfirmation{
		req:   ConfirmationRequest{ID: p.ids.New(), Command: command, Prompt: prompt, Items: items},
		reply: make(chan bool, 1),
	}
	p.pending = pc
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending == pc {
			p.pending = nil
		}
		p.mu.Unlock()
	}()

	select {
	case p.requests <- pc.req:
	default:
		// A stale request nobody read; replace it.
		select {
		case <-p.requests:
		default:
		}
		p.requests <- pc.req
	}

	var timeout <-chan time.Time
	if p.timeout > 0 {
		t := time.NewTimer(p.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case answer := <-pc.reply:
		return answer, nil
	case <-timeout:
		p.logger.Info("confirmation timed out", "command", command)
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
