package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(Config{Level: level, Component: ComponentRelay, Output: buf}), buf
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestLogger_AddsComponent(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)

	logger.Info("hello", FieldCount, 3)
	logger.WithComponent(ComponentStore).Warn("careful")

	out := buf.String()
	assert.Contains(t, out, "component=relay")
	assert.Contains(t, out, "count=3")
	assert.Contains(t, out, "component=store")
}

func TestLogger_RespectsLevel(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelWarn)

	logger.Info("quiet")
	logger.Debug("quieter")
	logger.Error("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestLogger_WithKeepsComponent(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)

	child := logger.With(FieldRequestID, "req-1")
	child.Info("scoped")

	assert.Equal(t, ComponentRelay, child.Component())
	assert.Contains(t, buf.String(), "request_id=req-1")
}

func TestContext_RoundTrip(t *testing.T) {
	logger, _ := newBufferLogger(slog.LevelInfo)

	ctx := NewContext(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, ComponentUnknown, FromContext(context.Background()).Component())

	fallback := Discard()
	assert.Same(t, fallback, FromContextOr(context.Background(), fallback))
	assert.Same(t, logger, FromContextOr(ctx, fallback))
}

func TestLogUpstream_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "level=INFO"},
		{401, "level=WARN"},
		{502, "level=ERROR"},
	}
	for _, tt := range tests {
		logger, buf := newBufferLogger(slog.LevelDebug)

		logger.LogUpstream(context.Background(), OpIdentity, tt.status, 12, true, false)

		out := buf.String()
		assert.Contains(t, out, tt.want)
		assert.Contains(t, out, "operation=identity")
		assert.Contains(t, out, "credential=true")
		assert.Contains(t, out, "grant=false")
	}
}

func TestLogError(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)

	logger.LogError(context.Background(), "Publish failed", errors.New("broker gone"), OpCreate, nil)

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, `error="broker gone"`)
	assert.Contains(t, out, "operation=create")
}

func TestFields_Builder(t *testing.T) {
	f := NewFields().
		WithOperation(OpUpdate).
		WithExpense("42", "9.50", "Health").
		WithHTTPRequest("PATCH", "/expenses/42", "", "").
		WithError(nil)

	assert.Equal(t, OpUpdate, f[FieldOperation])
	assert.Equal(t, "42", f[FieldExpenseID])
	assert.NotContains(t, f, FieldQuery)
	assert.NotContains(t, f, FieldUserAgent)
	assert.NotContains(t, f, FieldError)
	assert.Len(t, f.ToSlice(), len(f)*2)
}
