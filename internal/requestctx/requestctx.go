// Package requestctx carries per-request identifiers across layers so domain
// code can tag its logs without importing the HTTP transport.
package requestctx

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	actorIDKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, traceIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, _ := ctx.Value(traceIDKey).(string)
	return value
}

// WithActorID records the authenticated user behind the request.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

func ActorID(ctx context.Context) string {
	value, _ := ctx.Value(actorIDKey).(string)
	return value
}

// Logger returns the default logger tagged with the trace and actor ids of
// ctx. The trace id is logged as traceId so it cannot be confused with a
// leave request id.
func Logger(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := GetRequestID(ctx); id != "" {
		logger = logger.With("traceId", id)
	}
	if actor := ActorID(ctx); actor != "" {
		logger = logger.With("actorId", actor)
	}
	return logger
}
