package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	attemptIDKey ctxKey = "attempt_id"
	meetingIDKey ctxKey = "meeting_id"
)

// WithAttemptID tags ctx with the id of one join attempt.
func WithAttemptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptIDKey, id)
}

// WithMeetingID tags ctx with the meeting being joined.
func WithMeetingID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, meetingIDKey, id)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}

	if id, ok := ctx.Value(attemptIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("attempt_id", id))
	}

	if id, ok := ctx.Value(meetingIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("meeting_id", id))
	}

	if len(fields) == 0 {
		return cl.logger
	}

	return cl.logger.With(fields...)
}

// Sugar returns the context-tagged logger in sugared form.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}
