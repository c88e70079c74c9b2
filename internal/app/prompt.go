package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user questions on behalf of a command.
type Prompter interface {
	// Passphrase reads the encryption passphrase without echo.
	Passphrase() (string, error)
	// Confirm shows prompt and the affected items and returns the answer.
	Confirm(prompt string, items []string) (bool, error)
}

// TerminalPrompter prompts on out and reads answers from in.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewTerminalPrompter prompts on stderr and reads from stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(os.Stdin), out: os.Stderr, fd: int(os.Stdin.Fd())}
}

// NewPrompter creates a prompter over arbitrary streams. Passphrases are
// read as plain lines.
func NewPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out, fd: -1}
}

func (p *TerminalPrompter) Passphrase() (string, error) {
	fmt.Fprint(p.out, "Encryption passphrase: ")
	if p.fd >= 0 && term.IsTerminal(p.fd) {
		pw, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	return p.line()
}

func (p *TerminalPrompter) Confirm(prompt string, items []string) (bool, error) {
	fmt.Fprintln(p.out, prompt)
	for _, it := range items {
		fmt.Fprintf(p.out, "  %s\n", it)
	}
	fmt.Fprint(p.out, "Proceed? [y/N] ")
	answer, err := p.line()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (p *TerminalPrompter) line() (string, error) {
	s, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(s) > 0 {
			return strings.TrimSpace(s), nil
		}
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// ReadLine shows prompt and reads one line. Shells built on the prompter
// share its reader with confirmations.
func (p *TerminalPrompter) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	return p.line()
}
