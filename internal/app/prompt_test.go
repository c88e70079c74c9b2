package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestTerminalPrompter_Confirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "y\n", true},
		{"full yes", "YES\n", true},
		{"no", "n\n", false},
		{"empty defaults to no", "\n", false},
		{"unterminated yes", "y", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)

			got, err := p.Confirm("Check out 2 files?", []string{"a.prt", "b.prt"})
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "  b.prt\n") {
				t.Errorf("items not listed: %q", out.String())
			}
		})
	}
}

func TestTerminalPrompter_ConfirmEOF(t *testing.T) {
	p := NewPrompter(strings.NewReader(""), &bytes.Buffer{})
	if _, err := p.Confirm("Delete?", nil); err == nil {
		t.Fatal("Confirm() expected error on empty input")
	}
}

func TestTerminalPrompter_PassphraseFromPipe(t *testing.T) {
	p := NewPrompter(strings.NewReader("s3cret\n"), &bytes.Buffer{})
	got, err := p.Passphrase()
	if err != nil {
		t.Fatalf("Passphrase() error = %v", err)
	}
	if got != "s3cret" {
		t.Errorf("Passphrase() = %q, want %q", got, "s3cret")
	}
}

func TestTerminalPrompter_ReadLineSharesReader(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("checkout a.prt\ny\n"), &out)

	line, err := p.ReadLine("cv> ")
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if line != "checkout a.prt" {
		t.Errorf("ReadLine() = %q", line)
	}
	ok, err := p.Confirm("Proceed?", nil)
	if err != nil || !ok {
		t.Errorf("Confirm() = %v, %v; want true, nil", ok, err)
	}
	if !strings.HasPrefix(out.String(), "cv> ") {
		t.Errorf("prompt not written: %q", out.String())
	}
}
