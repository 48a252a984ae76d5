package audit

import "context"

type ctxKey int

const (
	actorKey ctxKey = iota
	sourceKey
)

// Sources recorded in Entry.Source.
const (
	SourceAPI      = "api"
	SourceWorkflow = "workflow"
)

// WithActor attaches the authenticated subject to ctx.
func WithActor(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, actorKey, subject)
}

// ActorFrom returns the subject attached by WithActor, or "unknown".
func ActorFrom(ctx context.Context) string {
	if subject, ok := ctx.Value(actorKey).(string); ok && subject != "" {
		return subject
	}
	return "unknown"
}

// WithSource tags ctx with the command origin (api or workflow).
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// SourceFrom returns the origin attached by WithSource.
func SourceFrom(ctx context.Context) string {
	source, _ := ctx.Value(sourceKey).(string)
	return source
}
