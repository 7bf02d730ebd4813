package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	operationKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithOperation tags the context and its logger with a store operation
// id, so the single-writer worker's log lines can be tied back to the
// caller that queued them.
func WithOperation(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("op_id", id)
	ctx = context.WithValue(ctx, operationKey, id)
	return WithLogger(ctx, logger)
}

// GetOperation retrieves the operation id from context.
func GetOperation(ctx context.Context) string {
	if id, ok := ctx.Value(operationKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	level:  InfoLevel,
	format: "text",
	output: os.Stderr,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
