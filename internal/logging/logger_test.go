package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kyleking/askdb/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}

	return entries
}

func jsonLogger(level string, buf *bytes.Buffer) *Logger {
	return NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: "json"}, buf)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestNewLoggerFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "test.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:  "warn",
		Format: "text",
		Output: "file",
		File:   logFile,
	})
	require.NoError(t, err)
	require.NotNil(t, logger.file)

	logger.Warn("test message")
	require.NoError(t, logger.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test message")
}

func TestNewLoggerFileWithoutPath(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestNewLoggerInvalidOutput(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Output: "syslog"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log output")
}

func TestSetupFallbackLoggerAfterBadConfig(t *testing.T) {
	previous := globalLogger
	defer SetGlobal(previous)

	_, err := NewLogger(config.LoggingConfig{Level: "info", Output: "syslog"})
	require.Error(t, err)

	globalLogger = nil
	SetupFallbackLogger()
	require.NotNil(t, globalLogger)
	assert.Same(t, globalLogger, GetLogger())
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := jsonLogger("warn", &buf)
	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")
	logger.Errorf("visible %s", "error")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "visible error", entries[1]["msg"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer

	base := jsonLogger("info", &buf)
	child := base.WithFields(map[string]interface{}{"table": "orders", "rows": 3}).WithField("stage", "executing")
	child.Info("executed")
	base.Info("parent untouched")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "orders", entries[0]["table"])
	assert.EqualValues(t, 3, entries[0]["rows"])
	assert.Equal(t, "executing", entries[0]["stage"])
	assert.NotContains(t, entries[1], "table")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer

	logger := jsonLogger("info", &buf)
	assert.Same(t, logger, logger.WithError(nil))

	logger.WithError(assert.AnError).Info("with error")
	logger.ErrorWithErr("failed", assert.AnError)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, assert.AnError.Error(), entries[0]["error"])
	assert.Equal(t, assert.AnError.Error(), entries[1]["error"])
}

func TestAuditEmittedAtWarnLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := jsonLogger("warn", &buf)
	logger.Audit("forbidden_operation", map[string]interface{}{"param_count": 2})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0]["audit"])
	assert.Equal(t, "forbidden_operation", entries[0]["event"])
	assert.EqualValues(t, 2, entries[0]["param_count"])
}

func TestGetLoggerBeforeInitialization(t *testing.T) {
	previous := globalLogger
	defer SetGlobal(previous)

	globalLogger = nil
	assert.NotPanics(t, func() {
		Infof("no logger yet %d", 1)
		WithField("k", "v").Info("still fine")
	})
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer

	previous := globalLogger
	defer SetGlobal(previous)
	SetGlobal(jsonLogger("debug", &buf))

	err := LoggerMiddleware("test_operation", func() error { return nil })
	require.NoError(t, err)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "debug", entries[0]["level"])
	assert.Contains(t, entries[0]["msg"], "Starting operation")
	assert.Equal(t, "test_operation", entries[0]["operation"])
	assert.Contains(t, entries[1]["msg"], "Operation completed successfully")
	assert.NotNil(t, entries[1]["duration"])
}

func TestLoggerMiddlewareWithError(t *testing.T) {
	var buf bytes.Buffer

	previous := globalLogger
	defer SetGlobal(previous)
	SetGlobal(jsonLogger("debug", &buf))

	err := LoggerMiddleware("test_operation", func() error { return assert.AnError })
	assert.Equal(t, assert.AnError, err)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "error", entries[1]["level"])
	assert.Equal(t, "Operation failed", entries[1]["msg"])
}
