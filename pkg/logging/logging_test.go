package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	if Logger() == nil {
		t.Fatal("Expected logger to be set after InitForCLI")
	}

	Info("test-subsystem", "test message %d", 42)

	output := buf.String()
	if !strings.Contains(output, "test message 42") {
		t.Error("Expected log message to appear in CLI output")
	}
	if !strings.Contains(output, "test-subsystem") {
		t.Error("Expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("Info message should appear at INFO level")
	}
}

func TestInitForServer_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitForServer(LevelDebug, &buf, true)

	Error("Cache", errors.New("boom"), "write failed for %s", "srv-1")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["subsystem"] != "Cache" {
		t.Errorf("subsystem = %v", line["subsystem"])
	}
	if line["error"] != "boom" {
		t.Errorf("error = %v", line["error"])
	}
	if line["msg"] != "write failed for srv-1" {
		t.Errorf("msg = %v", line["msg"])
	}
}

func TestRedactToken(t *testing.T) {
	if got := RedactToken(""); got != "<empty>" {
		t.Errorf("RedactToken(empty) = %q", got)
	}
	if got := RedactToken("abc"); got != "[REDACTED]" {
		t.Errorf("RedactToken(short) = %q", got)
	}
	got := RedactToken("eyJhbGciOiJSUzI1NiJ9.payload.sig")
	if got != "eyJhbG...[REDACTED]" {
		t.Errorf("RedactToken(long) = %q", got)
	}
	if strings.Contains(got, "payload") {
		t.Error("redacted token leaks payload")
	}
}

func TestTruncateSessionID(t *testing.T) {
	if got := TruncateSessionID("short"); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := TruncateSessionID("0123456789abcdef"); got != "01234567..." {
		t.Errorf("got %q", got)
	}
}
