package infrastructure

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// InvocationEnv hands the parent invocation id to worker processes
const InvocationEnv = "STAGECTL_INVOCATION_ID"

type correlationKey int

const (
	invocationKey correlationKey = iota
	workerKey
	requestKey
)

// NewInvocationID returns a fresh id for one stagectl invocation
func NewInvocationID() string {
	return uuid.New().String()
}

// WithInvocationID tags ctx with the invocation it belongs to
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey, id)
}

// InvocationID returns the invocation id carried by ctx, if any
func InvocationID(ctx context.Context) string {
	return stringValue(ctx, invocationKey)
}

// EnsureInvocationID keeps an existing invocation id or assigns a new one.
func EnsureInvocationID(ctx context.Context) context.Context {
	if InvocationID(ctx) != "" {
		return ctx
	}
	return WithInvocationID(ctx, NewInvocationID())
}

// InvocationEnviron returns the environment entries a worker process needs
// to log under its parent's invocation.
func InvocationEnviron(ctx context.Context) []string {
	if id := InvocationID(ctx); id != "" {
		return []string{InvocationEnv + "=" + id}
	}
	return nil
}

// InvocationFromEnv adopts the parent's invocation id inside a worker
// process. Without one a new id is assigned.
func InvocationFromEnv(ctx context.Context) context.Context {
	if id := os.Getenv(InvocationEnv); id != "" {
		return WithInvocationID(ctx, id)
	}
	return EnsureInvocationID(ctx)
}

// WithWorkerID tags ctx with the replica being run, e.g. "measure-statistics.1"
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerKey, id)
}

// WorkerID returns the worker id carried by ctx, if any
func WorkerID(ctx context.Context) string {
	return stringValue(ctx, workerKey)
}

// WithRequestID tags ctx with a status server request id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey, id)
}

// RequestID returns the status server request id carried by ctx, if any
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestKey)
}

// correlationAttrs lists the ids of ctx that every log record carries.
func correlationAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if id := InvocationID(ctx); id != "" {
		attrs = append(attrs, slog.String("invocation_id", id))
	}
	if id := WorkerID(ctx); id != "" {
		attrs = append(attrs, slog.String("worker_id", id))
	}
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if id := TraceIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("trace_id", id))
	}
	return attrs
}

func stringValue(ctx context.Context, key correlationKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
