// Package logger provides the NightShift file logger. It appends to a
// daily-rolled file under the logs directory with thread-safe access and an
// optional console echo.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes timestamped entries to a daily log file.
type Logger struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	day     string
	console bool
}

// New creates a logger writing to dir/nightshift_YYYYMMDD.log.
// When console is true, INFO and above are echoed to stderr.
// Creates the directory if it doesn't exist.
func New(dir string, console bool) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	l := &Logger{dir: dir, console: console}
	if err := l.rotate(time.Now()); err != nil {
		return nil, err
	}
	return l, nil
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{}
}

// rotate opens the log file for the given day. Caller holds mu or is New.
func (l *Logger) rotate(now time.Time) error {
	day := now.Format("20060102")
	if l.file != nil && day == l.day {
		return nil
	}
	if l.file != nil {
		l.file.Close()
	}
	path := filepath.Join(l.dir, fmt.Sprintf("nightshift_%s.log", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.file = f
	l.day = day
	return nil
}

// log writes one entry, rolling the file across midnight.
func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dir == "" {
		return
	}

	now := time.Now()
	if err := l.rotate(now); err != nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "%s [%s] %s\n", now.Format("2006-01-02 15:04:05"), level, msg)

	if l.console && level != LevelDebug {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", level, msg)
	}
}

// Debug logs at DEBUG level (file only).
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs at WARN level.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the current log file path, or empty for a no-op logger.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}
