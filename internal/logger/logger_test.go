package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Level != INFO {
		t.Errorf("Expected default level INFO, got %v", config.Level)
	}

	if config.RetentionDays != 7 {
		t.Errorf("Expected retention days 7, got %d", config.RetentionDays)
	}

	if config.LogDir == "" {
		t.Error("Expected non-empty log directory")
	}
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestNew_CreatesLogFile(t *testing.T) {
	dir := t.TempDir()

	l, err := New(Config{LogDir: dir, Level: DEBUG, RetentionDays: 7})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Info("hello %s", "world")

	name := "memovox-" + time.Now().Format("20060102") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if !strings.Contains(string(data), "[INFO] ") || !strings.Contains(string(data), "hello world") {
		t.Errorf("Unexpected log content: %q", data)
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	l, err := New(Config{LogDir: dir, Level: WARN, RetentionDays: 7})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	name := "memovox-" + time.Now().Format("20060102") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	content := string(data)
	if strings.Contains(content, "debug message") || strings.Contains(content, "info message") {
		t.Error("Messages below WARN must be filtered")
	}
	if !strings.Contains(content, "warn message") || !strings.Contains(content, "error message") {
		t.Error("WARN and ERROR messages must be written")
	}
}

func TestSetLevel(t *testing.T) {
	dir := t.TempDir()

	l, err := New(Config{LogDir: dir, Level: INFO, RetentionDays: 7})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.SetLevel(ERROR)
	if l.GetLevel() != ERROR {
		t.Errorf("Expected level ERROR, got %v", l.GetLevel())
	}
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "memovox-20200101.log")
	if err := os.WriteFile(old, []byte("stale"), 0644); err != nil {
		t.Fatalf("Failed to seed old log: %v", err)
	}
	past := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("Failed to age old log: %v", err)
	}

	l, err := New(Config{LogDir: dir, Level: INFO, RetentionDays: 7})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("Expected stale log file to be removed")
	}
}
