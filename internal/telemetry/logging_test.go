package telemetry

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLogLines(t *testing.T, homeDir string) []map[string]any {
	t.Helper()
	f, err := os.Open(filepath.Join(homeDir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("log line not valid JSON: %v", err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLoggerWritesJSONWithTimestampKey(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("hello", "answer", 42)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLogLines(t, home)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	line := lines[0]
	if line["msg"] != "hello" {
		t.Fatalf("wrong msg: %v", line["msg"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatal("expected timestamp key")
	}
	if _, ok := line["time"]; ok {
		t.Fatal("default time key must be renamed")
	}
	if line["component"] != "taskbuddy" {
		t.Fatalf("missing component attr: %v", line)
	}
}

func TestLoggerRedactsSensitiveAttrs(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("auth attempt",
		"api_key", "sk_live_abcdef0123456789",
		"note", "header was Bearer abcdefghijklmnop1234",
	)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "sk_live_abcdef0123456789") {
		t.Fatal("sensitive key value leaked")
	}
	if strings.Contains(string(data), "abcdefghijklmnop1234") {
		t.Fatal("bearer token leaked through string redaction")
	}
}

func TestLoggerHonorsLevel(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("too quiet")
	logger.Warn("loud enough")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLogLines(t, home)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["msg"] != "loud enough" {
		t.Fatalf("wrong surviving line: %v", lines[0])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
