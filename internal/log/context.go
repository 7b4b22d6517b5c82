package log

import (
	"context"
	"log/slog"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// NewContext returns a copy of ctx carrying logger
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	return FromContextOr(ctx, &Logger{
		Logger:    slog.Default(),
		component: ComponentUnknown,
	})
}

// FromContextOr is FromContext with a caller-chosen fallback.
func FromContextOr(ctx context.Context, fallback *Logger) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return fallback
}

// LogUpstream records one relayed backend call. The session cookie is never
// logged; only whether one was present.
func (l *Logger) LogUpstream(ctx context.Context, op string, status int, durationMs int64, credentialPresent, grantPresent bool) {
	level := slog.LevelInfo
	if status >= 400 && status < 500 {
		level = slog.LevelWarn
	} else if status >= 500 {
		level = slog.LevelError
	}
	fields := NewFields().
		WithOperation(op).
		WithHTTPResponse(status, durationMs)
	fields[FieldCredential] = credentialPresent
	fields[FieldGrant] = grantPresent

	l.LogContext(ctx, level, "Upstream call completed", fields.ToSlice()...)
}

// LogError logs an error with structured context
func (l *Logger) LogError(ctx context.Context, msg string, err error, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	l.ErrorContext(ctx, msg, fields.WithError(err).WithOperation(operation).ToSlice()...)
}
