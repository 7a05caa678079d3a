// Package context carries correlation identifiers used by logs and traces.
package context

import "context"

type key int

const (
	requestIDKey key = iota
	entityIDKey
	actorKey
	runIDKey
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithEntityID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, entityIDKey, id)
}

func EntityIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(entityIDKey).(string)
	return v
}

// WithActor records who initiated the work, e.g. ("system", "scheduler") or ("admin", "ops@x").
func WithActor(ctx context.Context, kind, id string) context.Context {
	return context.WithValue(ctx, actorKey, actor{kind: kind, id: id})
}

func ActorFromContext(ctx context.Context) (string, string) {
	v, _ := ctx.Value(actorKey).(actor)
	return v.kind, v.id
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}
