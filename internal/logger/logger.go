package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// stdout carries the protocol stream, so nothing in this package writes there.

var (
	mu      sync.Mutex
	slogger *slog.Logger
	logFile *os.File
)

// Options controls where and how log records are written.
type Options struct {
	Dir   string // empty disables the log file
	JSON  bool
	Level string // debug, info, warn, error
}

// Init configures the process-wide logger. Records always go to stderr and,
// when Dir is set, to a dated file inside it.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	var writer io.Writer = os.Stderr
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		name := "acpbridge-" + time.Now().Format("2006-01-02") + ".log"
		f, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		if logFile != nil {
			_ = logFile.Close()
		}
		logFile = f
		writer = io.MultiWriter(os.Stderr, f)
	}

	slogger = slog.New(newHandler(writer, opts))
	slog.SetDefault(slogger)
	return nil
}

func newHandler(w io.Writer, opts Options) slog.Handler {
	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	if opts.JSON {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// Info logs an informational message
func Info(format string, v ...any) {
	Slog().Info(fmt.Sprintf(format, v...))
}

// Warn logs a warning message
func Warn(format string, v ...any) {
	Slog().Warn(fmt.Sprintf(format, v...))
}

// Error logs an error message
func Error(format string, v ...any) {
	Slog().Error(fmt.Sprintf(format, v...))
}

// Fatalf logs and exits.
func Fatalf(format string, v ...any) {
	Slog().Error(fmt.Sprintf(format, v...))
	_ = Close()
	os.Exit(1)
}
