package ephemeral

import "context"

// contextKey is an unexported type used as context key to avoid collisions
// with keys defined in other packages.
type contextKey int

const cacheKey contextKey = iota

// NewContext returns a derived context carrying c. The collaborator that
// owns an invocation boundary (an HTTP middleware, a worker dispatch loop)
// creates one Cache per scope and threads it through the context, which
// gives each concurrent invocation its own isolated tier without any
// shared-instance clear discipline.
func NewContext(ctx context.Context, c *Cache) context.Context {
	return context.WithValue(ctx, cacheKey, c)
}

// FromContext extracts the Cache stored in ctx. It returns nil when no
// cache is present; callers treat a nil cache as a disabled tier.
func FromContext(ctx context.Context) *Cache {
	c, _ := ctx.Value(cacheKey).(*Cache)
	return c
}
