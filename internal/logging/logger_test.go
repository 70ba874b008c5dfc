package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		logLevel    Level
		shouldWrite bool
	}{
		{
			name:        "json format info level",
			config:      Config{Level: LevelInfo, Format: FormatJSON},
			logLevel:    LevelInfo,
			shouldWrite: true,
		},
		{
			name:        "console format debug level",
			config:      Config{Level: LevelDebug, Format: FormatConsole},
			logLevel:    LevelInfo,
			shouldWrite: true,
		},
		{
			name:        "console format warn level",
			config:      Config{Level: LevelWarn, Format: FormatConsole},
			logLevel:    LevelWarn,
			shouldWrite: true,
		},
		{
			name:        "console format error level",
			config:      Config{Level: LevelError, Format: FormatConsole},
			logLevel:    LevelError,
			shouldWrite: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf
			logger := New(tt.config)
			if logger == nil {
				t.Fatal("New() returned nil")
			}

			switch tt.logLevel {
			case LevelDebug:
				logger.Debug("test message")
			case LevelInfo:
				logger.Info("test message")
			case LevelWarn:
				logger.Warn("test message")
			case LevelError:
				logger.Error("test message")
			}

			if tt.shouldWrite && buf.Len() == 0 {
				t.Error("Logger did not write any output")
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: LevelInfo, Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	logger.Info("test message",
		slog.String("key1", "value1"),
		slog.Int("key2", 42),
	)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v\nOutput: %s", err, buf.String())
	}

	if logEntry["msg"] != "test message" {
		t.Errorf("Expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("Expected level='INFO', got %v", logEntry["level"])
	}
	if logEntry["key1"] != "value1" {
		t.Errorf("Expected key1='value1', got %v", logEntry["key1"])
	}
	if logEntry["key2"] != float64(42) {
		t.Errorf("Expected key2=42, got %v", logEntry["key2"])
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: LevelInfo, Format: FormatConsole, Output: &buf}
	logger := New(cfg)

	logger.Info("test message",
		slog.String("key1", "value1"),
		slog.Int("key2", 42),
	)

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("Console output missing message: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Console output missing level: %s", output)
	}
	if !strings.Contains(output, "key1=value1") {
		t.Errorf("Console output missing key1: %s", output)
	}
	if !strings.Contains(output, "key2=42") {
		t.Errorf("Console output missing key2: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name         string
		level        Level
		logFunc      func(*slog.Logger)
		shouldAppear bool
	}{
		{
			name:  "debug message at info level",
			level: LevelInfo,
			logFunc: func(l *slog.Logger) {
				l.Debug("debug message")
			},
			shouldAppear: false,
		},
		{
			name:  "info message at info level",
			level: LevelInfo,
			logFunc: func(l *slog.Logger) {
				l.Info("info message")
			},
			shouldAppear: true,
		},
		{
			name:  "info message at error level",
			level: LevelError,
			logFunc: func(l *slog.Logger) {
				l.Info("info message")
			},
			shouldAppear: false,
		},
		{
			name:  "error message at error level",
			level: LevelError,
			logFunc: func(l *slog.Logger) {
				l.Error("error message")
			},
			shouldAppear: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := Config{Level: tt.level, Format: FormatConsole, Output: &buf}
			logger := New(cfg)

			tt.logFunc(logger)

			hasOutput := buf.Len() > 0
			if hasOutput != tt.shouldAppear {
				t.Errorf("Expected shouldAppear=%v, got hasOutput=%v. Output: %s",
					tt.shouldAppear, hasOutput, buf.String())
			}
		})
	}
}

func TestCaptureAttrs(t *testing.T) {
	attrs := CaptureAttrs("eth0", 42, 1500, 123)

	if len(attrs) != 4 {
		t.Errorf("Expected 4 attributes, got %d", len(attrs))
	}

	attrMap := make(map[string]slog.Value)
	for _, attr := range attrs {
		attrMap[attr.Key] = attr.Value
	}

	if val, ok := attrMap["adapter"]; !ok || val.String() != "eth0" {
		t.Errorf("adapter: expected 'eth0', got %v", val)
	}
	if val, ok := attrMap["packets"]; !ok || val.Int64() != 42 {
		t.Errorf("packets: expected 42, got %v", val)
	}
	if val, ok := attrMap["duration_ms"]; !ok || val.Int64() != 123 {
		t.Errorf("duration_ms: expected 123, got %v", val)
	}
}

func TestFlushAttrs(t *testing.T) {
	attrs := FlushAttrs("eth0", 1024, 2048, 10, 20)

	if len(attrs) != 5 {
		t.Errorf("Expected 5 attributes, got %d", len(attrs))
	}

	attrMap := make(map[string]slog.Value)
	for _, attr := range attrs {
		attrMap[attr.Key] = attr.Value
	}

	if val, ok := attrMap["incoming_bytes"]; !ok || val.Uint64() != 1024 {
		t.Errorf("incoming_bytes: expected 1024, got %v", val)
	}
	if val, ok := attrMap["outgoing_packets"]; !ok || val.Uint64() != 20 {
		t.Errorf("outgoing_packets: expected 20, got %v", val)
	}
}

func TestErrorAttrs(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		testErr := errors.New("test error")
		attrs := ErrorAttrs(testErr)

		if len(attrs) != 2 {
			t.Errorf("Expected 2 attributes, got %d", len(attrs))
		}
	})

	t.Run("nil error", func(t *testing.T) {
		attrs := ErrorAttrs(nil)

		if attrs != nil {
			t.Errorf("Expected nil for nil error, got %v", attrs)
		}
	})
}

func TestHelperFunctions(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: LevelDebug, Format: FormatJSON, Output: &buf}
	logger := New(cfg)

	t.Run("LogCaptureFailure", func(t *testing.T) {
		buf.Reset()
		testErr := errors.New("device gone")
		LogCaptureFailure(logger, "eth0", testErr)

		var logEntry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}

		if logEntry["level"] != "ERROR" {
			t.Errorf("Expected level='ERROR', got %v", logEntry["level"])
		}
		if logEntry["adapter"] != "eth0" {
			t.Errorf("Expected adapter='eth0', got %v", logEntry["adapter"])
		}
	})

	t.Run("LogPersistenceFailure", func(t *testing.T) {
		buf.Reset()
		testErr := errors.New("disk full")
		LogPersistenceFailure(logger, "persistent_state.json", testErr)

		var logEntry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}

		if logEntry["target"] != "persistent_state.json" {
			t.Errorf("Expected target='persistent_state.json', got %v", logEntry["target"])
		}
	})
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Level: LevelInfo, Format: FormatJSON, Output: &buf}
	logger := New(cfg)
	SetDefault(logger)

	defaultLogger := Default()
	if defaultLogger == nil {
		t.Error("Default logger is nil")
	}

	slog.Info("test from default")

	if buf.Len() == 0 {
		t.Error("Default logger did not write output")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level=info, got %v", cfg.Level)
	}
	if cfg.Format != FormatConsole && cfg.Format != FormatJSON {
		t.Errorf("Expected default format to be console or json, got %v", cfg.Format)
	}
	if cfg.Output == nil {
		t.Error("Expected default output to be set")
	}
}
