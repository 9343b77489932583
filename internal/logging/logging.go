package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps a config level name onto slog; unknown names mean info.
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

// Setup installs the default slog logger. Records go to stdout, as text or
// through charmbracelet/log when format is "pretty", and to a rotating text
// file when filename is set. The returned closer flushes the file.
func Setup(level, format, filename string) (io.Closer, error) {
	return setup(os.Stdout, level, format, filename)
}

// SetupConsole installs a default logger that writes only to w.
func SetupConsole(w io.Writer, level, format string) error {
	_, err := setup(w, level, format, "")
	return err
}

func setup(stdout io.Writer, level, format, filename string) (io.Closer, error) {
	slogLevel := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: slogLevel}

	var console slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		console = slog.NewTextHandler(stdout, opts)
	case "json":
		console = slog.NewJSONHandler(stdout, opts)
	case "pretty":
		pretty := log.NewWithOptions(stdout, log.Options{
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Level:           charmLevel(slogLevel),
		})
		console = pretty
	default:
		return nil, fmt.Errorf("logging: unknown format %q", format)
	}

	if filename == "" {
		slog.SetDefault(slog.New(console))
		return io.NopCloser(nil), nil
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}
	file := slog.NewTextHandler(logWriter, opts)
	slog.SetDefault(slog.New(fanout{console, file}))
	return logWriter, nil
}

func charmLevel(l slog.Level) log.Level {
	switch {
	case l <= slog.LevelDebug:
		return log.DebugLevel
	case l <= slog.LevelInfo:
		return log.InfoLevel
	case l <= slog.LevelWarn:
		return log.WarnLevel
	default:
		return log.ErrorLevel
	}
}

// fanout hands each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
