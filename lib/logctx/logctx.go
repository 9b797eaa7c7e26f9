// Package logctx carries a *slog.Logger on a context.Context so deeply
// nested calls (handlers, timers, runtime control) can log with
// request-scoped fields without a logger parameter threaded everywhere.
package logctx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// With returns a context carrying logger, reachable later via From.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger stored on ctx, or slog.Default() if none was set.
// Never panics: recovers a misused context the same way logctx.From is
// called from goroutines that only inherit context.Background().
func From(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithFields returns a child context whose logger has the given attrs
// appended, building on whatever logger is already attached.
func WithFields(ctx context.Context, args ...any) context.Context {
	return With(ctx, From(ctx).With(args...))
}
