// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARNING:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger wraps a zap logger behind the map-of-fields API used across services
type Logger struct {
	mu      sync.Mutex
	zl      *zap.Logger
	level   zap.AtomicLevel
	file    *os.File
	enabled bool
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		globalLogger = &Logger{
			level:   level,
			enabled: true,
		}
		globalLogger.zl = zap.New(consoleCore(level), zap.AddCaller(), zap.AddCallerSkip(2))
	})
	return globalLogger
}

func consoleCore(level zap.AtomicLevel) zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level)
}

// InitLogger initializes the logger with a log file.
// Stdout keeps the console encoding, the file receives JSON lines.
func InitLogger(logFile string) error {
	logger := GetLogger()

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if logger.file != nil {
		_ = logger.zl.Sync()
		logger.file.Close()
	}
	logger.file = file

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(file),
		logger.level,
	)
	logger.zl = zap.New(
		zapcore.NewTee(consoleCore(logger.level), fileCore),
		zap.AddCaller(), zap.AddCallerSkip(2),
	)
	return nil
}

// SetLogLevel sets the minimum level for logging
func (l *Logger) SetLogLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Enable enables or disables logging
func (l *Logger) Enable(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Zap exposes the underlying logger for libraries that take one
func (l *Logger) Zap() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zl
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.zl.Sync()
	if l.file != nil {
		return l.file.Sync()
	}
	return err
}

func (l *Logger) log(level LogLevel, message string, fields map[string]interface{}) {
	l.mu.Lock()
	enabled, zl := l.enabled, l.zl
	l.mu.Unlock()
	if !enabled {
		return
	}

	zfields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		if err, ok := value.(error); ok {
			zfields = append(zfields, zap.NamedError(key, err))
			continue
		}
		zfields = append(zfields, zap.Any(key, value))
	}

	switch level {
	case DEBUG:
		zl.Debug(message, zfields...)
	case INFO:
		zl.Info(message, zfields...)
	case WARNING:
		zl.Warn(message, zfields...)
	case ERROR:
		zl.Error(message, zfields...)
	case FATAL:
		zl.Fatal(message, zfields...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(INFO, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WARNING, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.log(FATAL, message, fields)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARNING, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, fmt.Sprintf(format, args...), nil)
}
