package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	return loggerFrom(ctx, slog.Default())
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return fallback
	}
	return l
}

// WithSessionID tags the context logger with the server-side session id so
// heartbeat and end-session lines can be joined with analytics.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	l := FromContext(ctx)
	return WithContext(ctx, l.With("session_id", sessionID))
}
