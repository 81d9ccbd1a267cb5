package continuation

import "context"

type contextKey struct{}

// WithContinuation binds c as the active continuation of ctx. Bindings nest:
// a target that resumes an inner continuation passes a derived context, and
// the outer binding is unaffected when the inner Resume returns.
func WithContinuation(ctx context.Context, c *Continuation) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the continuation active in ctx.
func FromContext(ctx context.Context) (*Continuation, bool) {
	c, ok := ctx.Value(contextKey{}).(*Continuation)
	return c, ok && c != nil
}

// Suspend requests suspension of the continuation active in ctx.
func Suspend(ctx context.Context) error {
	c, ok := FromContext(ctx)
	if !ok {
		return illegalState("suspend with no active continuation")
	}
	return c.Suspend()
}
