package fs

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile is the per-vault ignore file read from the vault root.
const IgnoreFile = ".cvignore"

// alwaysIgnored are applied regardless of config or .cvignore: the ignore
// file itself and the temp files Write leaves behind on a crash.
var alwaysIgnored = []string{IgnoreFile, tempPrefix + "*"}

// IgnoreMatcher checks vault-relative paths against gitignore-style rules.
// Patterns without '/' match the base name at any depth.
type IgnoreMatcher struct {
	patterns []string
	ignore   *gitignore.GitIgnore
}

// escaper quotes characters that go-gitignore would pass through to the
// regexp unescaped. CAD owner files start with "~$".
var escaper = strings.NewReplacer(
	"$", `\$`,
	"^", `\^`,
	"+", `\+`,
	"(", `\(`,
	")", `\)`,
	"{", `\{`,
	"}", `\}`,
	"|", `\|`,
)

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []string
	lines := make([]string, 0, len(rawPatterns)+len(alwaysIgnored))
	for _, raw := range append(append([]string(nil), alwaysIgnored...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, raw)
		lines = append(lines, escaper.Replace(raw))
	}
	return &IgnoreMatcher{
		patterns: patterns,
		ignore:   gitignore.CompileIgnoreLines(lines...),
	}
}

// Match reports whether the given vault-relative path should be ignored.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	return m.ignore.MatchesPath(relativePath)
}

// MatchDir is Match for a directory, so "dir/" patterns apply to the
// directory entry itself.
func (m *IgnoreMatcher) MatchDir(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	return m.ignore.MatchesPath(relativePath) || m.ignore.MatchesPath(relativePath+"/")
}

// Patterns returns the effective patterns, built-ins first.
func (m *IgnoreMatcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// ParseIgnoreFile reads a .cvignore file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
