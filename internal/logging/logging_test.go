package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func keepDefault(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestSetupWritesConsoleAndFile(t *testing.T) {
	keepDefault(t)
	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "agent.log")

	closer, err := setup(&stdout, "info", "text", path)
	if err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	slog.Debug("hidden detail")
	slog.Info("broker connected", "url", "ws://hub.test/ws")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for name, out := range map[string]string{"stdout": stdout.String(), "file": string(data)} {
		if !strings.Contains(out, "msg=\"broker connected\"") || !strings.Contains(out, "url=ws://hub.test/ws") {
			t.Errorf("%s missing record: %q", name, out)
		}
		if strings.Contains(out, "hidden detail") {
			t.Errorf("%s contains debug record at info level", name)
		}
	}
}

func TestSetupPrettyConsole(t *testing.T) {
	keepDefault(t)
	var stdout bytes.Buffer
	if _, err := setup(&stdout, "debug", "pretty", ""); err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	slog.Debug("target attached", "target_id", "T1")
	out := stdout.String()
	if !strings.Contains(out, "target attached") || !strings.Contains(out, "target_id=T1") {
		t.Fatalf("pretty output = %q", out)
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	keepDefault(t)
	if _, err := setup(&bytes.Buffer{}, "info", "xml", ""); err == nil {
		t.Fatal("setup() with unknown format = nil error")
	}
}

func TestSetupConsoleJSON(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	if err := SetupConsole(&buf, "warn", "json"); err != nil {
		t.Fatalf("SetupConsole() error = %v", err)
	}
	slog.Info("hidden")
	slog.Warn("shown", "n", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"n":1`) {
		t.Fatalf("json output = %s", out)
	}
}
