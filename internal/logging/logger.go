package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger provides structured logging on top of zerolog.
// A nil *Logger discards everything.
type Logger struct {
	zl      zerolog.Logger
	logFile *os.File
}

// NewLogger creates a logger writing to stderr
func NewLogger(level Level, jsonFormat bool) *Logger {
	return New(os.Stderr, level, jsonFormat)
}

// New creates a logger writing to w
func New(w io.Writer, level Level, jsonFormat bool) *Logger {
	return &Logger{zl: build(w, level, jsonFormat)}
}

// Nop returns a logger that drops every entry
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// NewFileLogger creates a logger that writes to path and stderr.
// Parent directories are created as needed.
func NewFileLogger(path string, level Level, jsonFormat bool) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	logger := &Logger{
		zl:      build(io.MultiWriter(logFile, os.Stderr), level, jsonFormat),
		logFile: logFile,
	}
	logger.Debug("logger initialized", map[string]interface{}{"path": path})
	return logger, nil
}

func build(w io.Writer, level Level, jsonFormat bool) zerolog.Logger {
	if !jsonFormat {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05", NoColor: true}
	}
	return zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
}

func (l *Logger) log(level Level, message string, fields []map[string]interface{}) {
	if l == nil {
		return
	}

	ev := l.zl.WithLevel(level.zerolog())
	for _, f := range fields {
		if len(f) > 0 {
			ev = ev.Fields(f)
		}
	}
	ev.Msg(message)

	if level == FATAL {
		os.Exit(1)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.log(DEBUG, message, fields)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.log(INFO, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.log(WARN, message, fields)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.log(ERROR, message, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...map[string]interface{}) {
	l.log(FATAL, message, fields)
}

// WithField returns a child logger carrying key=value on every entry
func (l *Logger) WithField(key string, value interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// ParseLevel parses a log level string, defaulting to INFO
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l == nil || l.logFile == nil {
		return nil
	}
	l.Debug("logger closing")
	return l.logFile.Close()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
