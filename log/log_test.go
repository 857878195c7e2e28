package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// newTestLogger returns a Logger that writes JSON into buf.
func newTestLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h)
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}
	return entry
}

func TestLogger_Module(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	l.Module("relayer").Info("request served")

	entry := decodeEntry(t, &buf)
	if entry["module"] != "relayer" {
		t.Fatalf("module = %v, want %q", entry["module"], "relayer")
	}
	if entry["msg"] != "request served" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "request served")
	}
}

func TestLogger_ModuleChain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	l.Module("chain").With("tx", "0xabc").Info("mined")

	entry := decodeEntry(t, &buf)
	if entry["module"] != "chain" {
		t.Fatalf("module = %v, want %q", entry["module"], "chain")
	}
	if entry["tx"] != "0xabc" {
		t.Fatalf("tx = %v, want %q", entry["tx"], "0xabc")
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		level  slog.Level
		logFn  func(l *Logger)
		expect bool
	}{
		{slog.LevelInfo, func(l *Logger) { l.Debug("nope") }, false},
		{slog.LevelInfo, func(l *Logger) { l.Info("yes") }, true},
		{slog.LevelInfo, func(l *Logger) { l.Error("yes") }, true},
		{slog.LevelWarn, func(l *Logger) { l.Info("nope") }, false},
		{slog.LevelWarn, func(l *Logger) { l.Warn("yes") }, true},
		{slog.LevelDebug, func(l *Logger) { l.Debug("yes") }, true},
	}

	for i, tt := range tests {
		var buf bytes.Buffer
		l := newTestLogger(&buf, tt.level)
		tt.logFn(l)

		got := buf.Len() > 0
		if got != tt.expect {
			t.Errorf("test %d: output=%v, want %v (level=%v, buf=%s)",
				i, got, tt.expect, tt.level, buf.String())
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}

	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelInfo)
	SetDefault(l)
	defer SetDefault(New(slog.LevelInfo))

	Info("test info", "k", "v")
	Module("web").Warn("flash")

	out := buf.String()
	if !strings.Contains(out, "test info") {
		t.Fatalf("output missing 'test info': %s", out)
	}
	if !strings.Contains(out, `"module":"web"`) {
		t.Fatalf("output missing module attr: %s", out)
	}

	SetDefault(nil)
	if Default() != l {
		t.Fatal("SetDefault(nil) replaced the logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVerbosityToLevel(t *testing.T) {
	want := map[int]string{0: "error", 1: "error", 2: "warn", 3: "info", 4: "debug", 5: "debug"}
	for v, lvl := range want {
		if got := VerbosityToLevel(v); got != lvl {
			t.Fatalf("VerbosityToLevel(%d) = %q, want %q", v, got, lvl)
		}
	}
}

func TestSetupWritesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "text"
	cfg.File = filepath.Join(t.TempDir(), "node.log")

	l, closer, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	l.Module("node").Info("started", "port", 8545)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "msg=started") || !strings.Contains(string(data), "module=node") {
		t.Fatalf("unexpected log file content: %s", data)
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "xml"
	if _, _, err := Setup(cfg); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
