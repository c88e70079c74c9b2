package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"cadvault/internal/app"
	"cadvault/internal/pdm"
)

// shell is the interactive loop of `cv watch`. It is the only reader of
// the terminal: command lines and confirmation answers both come off the
// same line stream, so a confirmation raised by a running command takes
// the next line typed.
type shell struct {
	term  *app.TerminalPrompter
	out   io.Writer
	lines chan string
	once  sync.Once
}

func newShell(term *app.TerminalPrompter, out io.Writer) *shell {
	return &shell{term: term, out: out, lines: make(chan string)}
}

func (s *shell) start() {
	s.once.Do(func() {
		go func() {
			defer close(s.lines)
			for {
				line, err := s.term.ReadLine("")
				if err != nil {
					return
				}
				s.lines <- line
			}
		}()
	})
}

// Passphrase is read before the shell starts, straight from the terminal.
func (s *shell) Passphrase() (string, error) { return s.term.Passphrase() }

func (s *shell) Confirm(prompt string, items []string) (bool, error) {
	fmt.Fprintln(s.out, prompt)
	for _, it := range items {
		fmt.Fprintf(s.out, "  %s\n", it)
	}
	fmt.Fprint(s.out, "Proceed? [y/N] ")
	line, ok := <-s.lines
	if !ok {
		return false, io.EOF
	}
	return isYes(line), nil
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

var builtins = []string{"status", "folders", "queue", "log", "resolve", "sync", "undo", "help", "quit"}

// run polls in the background and executes typed commands until EOF,
// "quit" or ctx ends.
func (s *shell) run(ctx context.Context, a *app.App) error {
	pollCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Watch(pollCtx) }()
	defer func() {
		stop()
		<-done
	}()

	s.start()
	fmt.Fprintln(s.out, "Watching the vault. Type 'help' for commands.")
	for {
		fmt.Fprint(s.out, "cv> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case err := <-done:
			done <- err
			return err
		case line, ok := <-s.lines:
			if !ok {
				fmt.Fprintln(s.out)
				return nil
			}
			quit, err := s.exec(ctx, a, line)
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *shell) exec(ctx context.Context, a *app.App, line string) (quit bool, err error) {
	words, err := splitWords(line)
	if err != nil || len(words) == 0 {
		return false, err
	}
	name, rest := words[0], words[1:]
	target := "."
	if len(rest) > 0 {
		target = rest[0]
	}

	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintf(s.out, "commands: %s\n", strings.Join(append(a.Engine().Pipeline().Commands(), builtins...), ", "))
		fmt.Fprintln(s.out, "flags: -m COMMENT, -k (keep checked out), -c CONFIG, -y (assume yes)")
		return false, nil
	case "status":
		return false, printStatus(s.out, a, target, false)
	case "folders":
		return false, printStatus(s.out, a, target, true)
	case "queue":
		return false, printQueue(s.out, a)
	case "log":
		if len(rest) != 1 {
			return false, fmt.Errorf("usage: log PATH")
		}
		return false, printLog(ctx, s.out, a, rest[0])
	case "resolve":
		if len(rest) != 2 {
			return false, fmt.Errorf("usage: resolve PATH keep-local|keep-server|backup")
		}
		return false, a.Resolve(ctx, rest[0], rest[1])
	case "sync":
		if err := a.Sync(ctx); err != nil && !errors.Is(err, pdm.ErrSyncInProgress) {
			return false, err
		}
		return false, printQueue(s.out, a)
	case "undo":
		what, ok := a.Engine().Pipeline().CanUndo()
		if !ok {
			fmt.Fprintln(s.out, "Nothing to undo.")
			return false, nil
		}
		fmt.Fprintf(s.out, "Undoing %s\n", what)
		res, err := a.Undo(ctx)
		app.FormatItems(s.out, res)
		return false, err
	}

	if !slices.Contains(a.Engine().Pipeline().Commands(), name) {
		return false, fmt.Errorf("unknown command %q; type 'help'", name)
	}
	args, err := parseArgs(rest)
	if err != nil {
		return false, err
	}
	if name == pdm.CmdMove {
		if len(args.Targets) < 2 {
			return false, fmt.Errorf("usage: move SOURCE... DEST")
		}
		args.Destination = args.Targets[len(args.Targets)-1]
		args.Targets = args.Targets[:len(args.Targets)-1]
	}
	res, err := a.Execute(ctx, name, args)
	app.FormatItems(s.out, res)
	return false, err
}

// parseArgs reads the short flags of a shell command line; everything
// else is a target.
func parseArgs(words []string) (pdm.Args, error) {
	var a pdm.Args
	for i := 0; i < len(words); i++ {
		w := words[i]
		switch w {
		case "-m", "--message", "-c", "--configuration":
			if i+1 >= len(words) {
				return a, fmt.Errorf("%s needs a value", w)
			}
			i++
			if w == "-m" || w == "--message" {
				a.Comment = words[i]
			} else {
				a.Configurations = append(a.Configurations, strings.Split(words[i], ",")...)
			}
		case "-k", "--keep":
			a.KeepCheckedOut = true
		case "-y", "--yes":
			a.AssumeYes = true
		default:
			a.Targets = append(a.Targets, w)
		}
	}
	if len(a.Targets) == 0 {
		return a, fmt.Errorf("no files given")
	}
	return a, nil
}

// splitWords splits a line on blanks, honoring single and double quotes.
func splitWords(line string) ([]string, error) {
	var (
		words  []string
		cur    strings.Builder
		quote  rune
		inWord bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
