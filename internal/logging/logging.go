package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options selects level, output format and an optional log file.
type Options struct {
	Level  string
	Format string // text or json
	File   string
}

// New returns a minimal structured logger with secret redaction.
func New() *slog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a text logger at the given level. Unknown levels fall back to info.
func NewWithLevel(level string) *slog.Logger {
	return slog.New(newHandler(os.Stdout, "text", ParseLevel(level)))
}

// NewWithOptions builds a stdout logger and, when File is set, fans every
// record out to that file as well. The returned closer releases the file.
func NewWithOptions(opts Options) (*slog.Logger, io.Closer, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, nil, fmt.Errorf("invalid log format %q", opts.Format)
	}
	level := ParseLevel(opts.Level)
	console := newHandler(os.Stdout, format, level)
	if opts.File == "" {
		return slog.New(console), nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slogmulti.Fanout(console, newHandler(f, format, level))), f, nil
}

// ParseLevel maps debug/info/warn/warning/error to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		a.Value = slog.StringValue("[redacted]")
	}
	return a
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return strings.Contains(k, "token") || strings.Contains(k, "secret") || strings.Contains(k, "key") || strings.Contains(k, "pass")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
