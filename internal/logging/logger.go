package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// Logger is the global logger instance. Nil until Init or InitWriter.
	Logger *log.Logger

	// logFile is the file handle for the log file
	logFile *os.File
)

// Init opens a dated log file under dir/logs and points Logger at it.
func Init(dir, level string) error {
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("lookalike-%s.log", time.Now().Format("2006-01-02"))
	logPath := filepath.Join(logDir, logFileName)

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logFile = f

	InitWriter(f, level)
	return nil
}

// InitWriter points Logger at w. Used by tests and by Tee.
func InitWriter(w io.Writer, level string) {
	Logger = log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           ParseLevel(level),
	})
}

// Tee additionally writes to w (the CLI's stderr) at the given level.
// The file, if any, keeps receiving everything at its own level.
func Tee(w io.Writer, level string) {
	var out io.Writer = w
	if logFile != nil {
		out = io.MultiWriter(logFile, w)
	}
	InitWriter(out, level)
}

// ParseLevel maps "debug", "info", "warn", "error" to a log level.
// Unknown strings select info.
func ParseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Close closes the log file
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Info logs an info message
func Info(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Info(msg, keyvals...)
	}
}

// Debug logs a debug message
func Debug(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Debug(msg, keyvals...)
	}
}

// Warn logs a warning message
func Warn(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Warn(msg, keyvals...)
	}
}

// Error logs an error message
func Error(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Error(msg, keyvals...)
	}
}

// WithPrefix returns a logger with a prefix. Returns nil before Init.
func WithPrefix(prefix string) *log.Logger {
	if Logger != nil {
		return Logger.WithPrefix(prefix)
	}
	return nil
}
