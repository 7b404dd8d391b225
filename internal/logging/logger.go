package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kyleking/askdb/internal/config"
)

const (
	logDirPerm  = 0755
	logFilePerm = 0644
)

// Logger provides structured logging capabilities on top of zap
type Logger struct {
	z    *zap.Logger
	file *os.File
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// InitializeLogger initializes the global logger with the given configuration
func InitializeLogger(cfg config.LoggingConfig) error {
	var err error

	loggerOnce.Do(func() {
		globalLogger, err = NewLogger(cfg)
	})

	return err
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	var (
		output io.Writer
		file   *os.File
	)

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, errors.New("log file path is required when output is 'file'")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.File), logDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		file = f
		output = f
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := NewLoggerWithWriter(cfg, output)
	logger.file = file

	return logger, nil
}

// NewLoggerWithWriter builds a logger that writes to w, ignoring cfg.Output
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), parseLogLevel(cfg.Level))

	var opts []zap.Option
	if cfg.AddSource || strings.EqualFold(cfg.Level, "debug") {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	return &Logger{z: zap.New(core, opts...)}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// parseLogLevel parses a string log level into a zap level
func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With(zap.Any(key, value)), file: l.file}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zfields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}

	return &Logger{z: l.z.With(zfields...), file: l.file}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return &Logger{z: l.z.With(zap.Error(err)), file: l.file}
}

func (l *Logger) Debug(message string) { l.z.Debug(message) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.z.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(message string) { l.z.Info(message) }

func (l *Logger) Infof(format string, args ...interface{}) {
	l.z.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(message string) { l.z.Warn(message) }

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.z.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Error(message string) { l.z.Error(message) }

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.z.Error(fmt.Sprintf(format, args...))
}

// ErrorWithErr logs an error message with an associated error
func (l *Logger) ErrorWithErr(message string, err error) {
	l.z.Error(message, zap.Error(err))
}

// Audit records a security-relevant event. Audit events are always emitted at
// warn level or above so they survive an info-level configuration.
func (l *Logger) Audit(event string, fields map[string]interface{}) {
	zfields := make([]zap.Field, 0, len(fields)+2)
	zfields = append(zfields, zap.Bool("audit", true), zap.String("event", event))

	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}

	l.z.Warn("audit", zfields...)
}

// Close flushes buffered entries and closes any associated file
func (l *Logger) Close() error {
	_ = l.z.Sync()

	if l.file != nil {
		return l.file.Close()
	}

	return nil
}

// GetLogger returns the global logger instance, or a no-op logger before initialization
func GetLogger() *Logger {
	if globalLogger == nil {
		return NewNop()
	}

	return globalLogger
}

// SetGlobal replaces the global logger
func SetGlobal(l *Logger) {
	globalLogger = l
}

// SetupFallbackLogger sets up a basic logger for cases where configuration fails
func SetupFallbackLogger() {
	globalLogger = NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, os.Stderr)
}

// WithField adds a field to the global logger context
func WithField(key string, value interface{}) *Logger {
	return GetLogger().WithField(key, value)
}

// WithFields adds multiple fields to the global logger context
func WithFields(fields map[string]interface{}) *Logger {
	return GetLogger().WithFields(fields)
}

// Debugf logs a formatted debug message using the global logger
func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }

// Infof logs a formatted info message using the global logger
func Infof(format string, args ...interface{}) { GetLogger().Infof(format, args...) }

// Warnf logs a formatted warning message using the global logger
func Warnf(format string, args ...interface{}) { GetLogger().Warnf(format, args...) }

// ErrorWithErr logs an error message with an associated error using the global logger
func ErrorWithErr(message string, err error) { GetLogger().ErrorWithErr(message, err) }

// LoggerMiddleware provides a way to wrap functions with logging
func LoggerMiddleware(operation string, fn func() error) error {
	logger := WithField("operation", operation)
	logger.Debug("Starting operation")

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if err != nil {
		logger.WithField("duration", duration).ErrorWithErr("Operation failed", err)
	} else {
		logger.WithField("duration", duration).Debug("Operation completed successfully")
	}

	return err
}
