package logger

import (
	"context"
	"log/slog"
)

// Slog returns the configured logger, falling back to slog.Default.
func Slog() *slog.Logger {
	mu.Lock()
	l := slogger
	mu.Unlock()
	if l == nil {
		return slog.Default()
	}
	return l
}

// SetForTest swaps the process logger and returns a restore func.
func SetForTest(l *slog.Logger) func() {
	mu.Lock()
	prev := slogger
	slogger = l
	mu.Unlock()
	return func() {
		mu.Lock()
		slogger = prev
		mu.Unlock()
	}
}

type contextKey string

// Context keys for structured logging
const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeySessionID contextKey = "session_id"
)

// WithSessionID tags ctx so WithContext adds session_id to records.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, id)
}

// WithRequestID tags ctx so WithContext adds request_id to records.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// WithContext returns a logger with context fields
func WithContext(ctx context.Context) *slog.Logger {
	logger := Slog()
	if ctx == nil {
		return logger
	}
	if requestID := ctx.Value(ContextKeyRequestID); requestID != nil {
		logger = logger.With("request_id", requestID)
	}
	if sessionID := ctx.Value(ContextKeySessionID); sessionID != nil {
		logger = logger.With("session_id", sessionID)
	}
	return logger
}

// InfoContext logs an info message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// ErrorContext logs an error with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// WarnContext logs a warning with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// DebugContext logs debug info with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
