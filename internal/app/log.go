package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"cadvault/internal/pdm"
)

// LogFile is the name of the rotating log inside the log directory.
const LogFile = "cadvault.log"

// cvHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
type cvHandler struct {
	w     io.Writer
	opID  string
	level slog.Leveler
	attrs []slog.Attr
}

func (h *cvHandler) Enabled(_ context.Context, l slog.Level) bool {
	if h.level == nil {
		return true
	}
	return l >= h.level.Level()
}

func (h *cvHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s", r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.opID, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, "\t%s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	// Single write per record keeps concurrent lines whole.
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *cvHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &cvHandler{
		w:     h.w,
		opID:  h.opID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *cvHandler) WithGroup(string) slog.Handler { return h }

// multiHandler forwards every record to each handler that accepts its level.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if e := hh.Handle(ctx, r.Clone()); e != nil {
			err = e
		}
	}
	return err
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		out[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}

// ParseLevel maps a configured level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// newLogger creates a structured logger writing every record to a rotating
// logDir/cadvault.log and warnings and above to stderr. Setting verbose
// lowers the stderr threshold to the file level. The returned closer
// releases the log file.
func newLogger(logDir, opID, level string, verbose bool) (*slog.Logger, io.Closer, error) {
	fileLevel, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFile),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}

	consoleLevel := slog.LevelWarn
	if verbose {
		consoleLevel = fileLevel
	}
	console := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      consoleLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	handler := &multiHandler{handlers: []slog.Handler{
		&cvHandler{w: rotator, opID: opID, level: fileLevel},
		console,
	}}
	return slog.New(handler), rotator, nil
}

// slogAdapter wraps *slog.Logger to satisfy the pdm.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// NewLogger is newLogger for the server binary, wrapped for pdm consumers.
// The *slog.Logger is returned as well for HTTP request logging.
func NewLogger(logDir, opID, level string, verbose bool) (*slog.Logger, pdm.Logger, io.Closer, error) {
	l, closer, err := newLogger(logDir, opID, level, verbose)
	if err != nil {
		return nil, nil, nil, err
	}
	return l, &slogAdapter{l: l}, closer, nil
}
