package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		err := Init(nil)
		if err != nil {
			t.Fatalf("Init(nil) failed: %v", err)
		}
	})

	t.Run("json format", func(t *testing.T) {
		err := Init(&Config{
			Level:  "debug",
			Format: "json",
			Output: "stdout",
		})
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}
	})

	t.Run("text format", func(t *testing.T) {
		err := Init(&Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		})
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}
	})
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, nil)
	loggerMu.Lock()
	defaultLogger = slog.New(handler)
	loggerMu.Unlock()

	WithComponent("gateway").Info("test message")

	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if result["component"] != "gateway" {
		t.Errorf("expected component='gateway', got %v", result["component"])
	}
}

func TestWithPipeline(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, nil)
	loggerMu.Lock()
	defaultLogger = slog.New(handler)
	loggerMu.Unlock()

	WithPipeline("engine", 3).Info("candidate started")

	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}

	if result["component"] != "engine" {
		t.Errorf("expected component='engine', got %v", result["component"])
	}
	if result["pipeline"] != float64(3) {
		t.Errorf("expected pipeline=3, got %v", result["pipeline"])
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	loggerMu.Lock()
	defaultLogger = slog.New(handler)
	loggerMu.Unlock()

	tests := []struct {
		logFunc func(string, ...any)
		level   string
	}{
		{Debug, "DEBUG"},
		{Info, "INFO"},
		{Warn, "WARN"},
		{Error, "ERROR"},
	}

	for _, tt := range tests {
		buf.Reset()
		tt.logFunc("test message")

		var result map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse JSON output for %s: %v", tt.level, err)
		}

		if result["level"] != tt.level {
			t.Errorf("expected level=%s, got %v", tt.level, result["level"])
		}
	}
}

func TestFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "test.log")

	err := Init(&Config{
		Level:  "info",
		Format: "text",
		Output: logFile,
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Info("test file output")

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	if !strings.Contains(string(content), "test file output") {
		t.Errorf("log file does not contain expected message")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level=info, got %s", cfg.Level)
	}
	if cfg.Format != "text" {
		t.Errorf("expected format=text, got %s", cfg.Format)
	}
	if cfg.Output != "stdout" {
		t.Errorf("expected output=stdout, got %s", cfg.Output)
	}
}
