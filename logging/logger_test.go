package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncQuietly ignores the "invalid argument" Linux returns when syncing stdout.
func syncQuietly(t testing.TB, l *Logger) {
	t.Helper()
	if err := l.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
		t.Logf("Sync() warning: %v", err)
	}
}

func TestNewLogger_WritesJSONFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sdstudio.log")

	logger, err := NewLogger(false, logPath)
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	if logger.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
	if logger.LogFilePath() != logPath {
		t.Errorf("LogFilePath() = %q, want %q", logger.LogFilePath(), logPath)
	}

	logger.Info("pipeline built", zap.String("style", "TextToImage"))
	syncQuietly(t, logger)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, line)
	}
	if entry[KeyMessage] != "pipeline built" {
		t.Errorf("msg = %v, want %q", entry[KeyMessage], "pipeline built")
	}
	if entry["style"] != "TextToImage" {
		t.Errorf("style = %v", entry["style"])
	}
}

func TestNewLogger_EmptyPath(t *testing.T) {
	if _, err := NewLogger(true, ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func newBufferLogger(buf *bytes.Buffer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(JSONEncoderConfig()), zapcore.AddSync(buf), zapcore.DebugLevel)
	return FromZap(zap.New(core))
}

func TestLogger_RedactsTokens(t *testing.T) {
	const token = "hf_AbCdEfGhIjKlMnOpQrStUvWx"

	tests := []struct {
		name string
		log  func(l *Logger)
	}{
		{"message", func(l *Logger) { l.Info("loading with " + token) }},
		{"string field", func(l *Logger) { l.Info("loading", zap.String("detail", "auth "+token)) }},
		{"credential key", func(l *Logger) { l.Info("env", zap.String("HUGGINGFACE_TOKEN", "anything")) }},
		{"error field", func(l *Logger) { l.Error("load failed", zap.Error(errors.New("401 for "+token))) }},
		{"sugared pair", func(l *Logger) { l.Infow("load", "detail", token) }},
		{"formatted", func(l *Logger) { l.Warnf("bad token %s", token) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(newBufferLogger(&buf))
			out := buf.String()
			if strings.Contains(out, token) || strings.Contains(out, "anything") {
				t.Errorf("secret leaked: %s", out)
			}
			if !strings.Contains(out, RedactedPlaceholder) {
				t.Errorf("expected placeholder in %s", out)
			}
		})
	}
}

func TestLogger_WithKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf).With(zap.String("run_id", "r-1")).Named("session")
	l.Info("step")

	out := buf.String()
	if !strings.Contains(out, `"run_id":"r-1"`) {
		t.Errorf("missing run_id: %s", out)
	}
	if !strings.Contains(out, `"logger":"session"`) {
		t.Errorf("missing logger name: %s", out)
	}
}

func TestLevelFromEnv(t *testing.T) {
	tests := []struct {
		value string
		want  zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"nonsense", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("SDSTUDIO_TEST_LEVEL", tt.value)
			if got := LevelFromEnv("SDSTUDIO_TEST_LEVEL", zapcore.InfoLevel); got != tt.want {
				t.Errorf("LevelFromEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTee_DevConsoleIsText(t *testing.T) {
	var console, file bytes.Buffer
	core := NewTee(zapcore.InfoLevel, zapcore.AddSync(&console), zapcore.AddSync(&file), true)
	zap.New(core).Info("hello")

	if strings.HasPrefix(strings.TrimSpace(console.String()), "{") {
		t.Errorf("dev console should not be JSON: %q", console.String())
	}
	if !strings.HasPrefix(strings.TrimSpace(file.String()), "{") {
		t.Errorf("file should be JSON: %q", file.String())
	}
}

func TestDefaultRotation(t *testing.T) {
	r := Rotation{}.withDefaults()
	if r.MaxSizeMB != defaultMaxSizeMB || r.MaxBackups != defaultMaxBackups || r.MaxAgeDays != defaultMaxAgeDays {
		t.Errorf("withDefaults() = %+v", r)
	}
	if !DefaultRotation().Compress {
		t.Error("DefaultRotation should compress")
	}
}
