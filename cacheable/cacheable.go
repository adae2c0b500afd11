// Package cacheable attaches caching behavior to a query-executing
// component. The component exposes its identity and query shape through
// the [Executor] interface and registers one real implementation per
// cacheable method; Call then serves results through the coordinator and
// tracks every key it produces for targeted invalidation.
package cacheable

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mossline/querycache"
	"github.com/mossline/querycache/ephemeral"
	"github.com/mossline/querycache/keys"
)

// Executor is the capability a component must implement to be cacheable:
// a stable collection identifier and an explicit description of its
// current query shape. The description feeds key derivation, so two
// executors in the same state produce the same keys.
type Executor interface {
	Collection() string
	Describe() keys.QueryDescriptor
}

// Func is a real (uncached) implementation of a cacheable method.
type Func func(ctx context.Context, args ...any) (any, error)

// Behavior binds one executor to a coordinator. The zero value is not
// usable; create instances with New. All methods are safe for concurrent
// use, and the fluent configuration methods mutate the receiver in place.
type Behavior struct {
	exec  Executor
	coord *querycache.Coordinator

	mu          sync.Mutex
	real        map[string]Func
	produced    map[string][]string // method name -> keys written so far
	enabled     bool
	persistent  bool
	keyOverride string
	tags        []string
	ttl         time.Duration
	hasTTL      bool
	store       string
}

// New creates a Behavior for exec with caching enabled on both tiers.
func New(exec Executor, coord *querycache.Coordinator) *Behavior {
	return &Behavior{
		exec:       exec,
		coord:      coord,
		real:       map[string]Func{},
		produced:   map[string][]string{},
		enabled:    true,
		persistent: true,
	}
}

// Register binds the real implementation of a cacheable method. It
// returns the receiver for chaining with the configuration methods.
func (b *Behavior) Register(method string, fn Func) *Behavior {
	b.mu.Lock()
	b.real[method] = fn
	b.mu.Unlock()
	return b
}

// Call invokes a registered method through the cache. On a miss the real
// implementation runs and its result is stored under a key derived from
// the executor's collection and query shape plus the method name and
// arguments. With caching disabled the real implementation is invoked
// directly on every call.
func (b *Behavior) Call(ctx context.Context, method string, args ...any) (any, error) {
	b.mu.Lock()
	fn, ok := b.real[method]
	enabled := b.enabled
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("cacheable: no implementation registered for method %q", method)
	}
	if !enabled {
		return fn(ctx, args...)
	}

	key := b.cacheKey(method, args)
	v, err := b.coord.Remember(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx, args...)
	}, b.entryOptions()...)
	if err != nil {
		return nil, err
	}
	b.track(method, key)
	return v, nil
}

// IsCached reports whether a Call with these arguments would hit.
func (b *Behavior) IsCached(ctx context.Context, method string, args ...any) bool {
	return b.coord.Has(ctx, b.cacheKey(method, args), b.entryOptions()...)
}

// WarmCache force-populates the cache by invoking Call once, discarding
// the value.
func (b *Behavior) WarmCache(ctx context.Context, method string, args ...any) error {
	_, err := b.Call(ctx, method, args...)
	return err
}

// ClearCache forgets every key this instance has produced so far.
func (b *Behavior) ClearCache(ctx context.Context) {
	b.mu.Lock()
	tracked := b.produced
	b.produced = map[string][]string{}
	b.mu.Unlock()

	for _, methodKeys := range tracked {
		for _, key := range methodKeys {
			b.coord.Forget(ctx, key, b.entryOptions()...)
		}
	}
}

// InvalidateCache forgets only the keys produced by the named methods.
func (b *Behavior) InvalidateCache(ctx context.Context, methods ...string) {
	b.mu.Lock()
	var doomed []string
	for _, m := range methods {
		doomed = append(doomed, b.produced[m]...)
		delete(b.produced, m)
	}
	b.mu.Unlock()

	for _, key := range doomed {
		b.coord.Forget(ctx, key, b.entryOptions()...)
	}
}

// FlushCache removes everything cached for this executor's collection:
// the tracked keys, every ephemeral key whose parsed collection matches,
// and all durable entries tagged with the collection name.
func (b *Behavior) FlushCache(ctx context.Context) {
	b.ClearCache(ctx)

	collection := b.exec.Collection()
	caches := []*ephemeral.Cache{b.coord.Ephemeral()}
	if scoped := ephemeral.FromContext(ctx); scoped != nil {
		caches = append(caches, scoped)
	}
	for _, c := range caches {
		for _, key := range c.Keys() {
			if keys.Collection(key) == collection {
				c.Forget(key)
			}
		}
	}

	b.coord.FlushTags(ctx, []string{collection}, b.entryOptions()...)
}

// WithoutCache disables caching for this instance; Call invokes the real
// implementation directly.
func (b *Behavior) WithoutCache() *Behavior { return b.set(func() { b.enabled = false }) }

// WithCache re-enables caching for this instance.
func (b *Behavior) WithCache() *Behavior { return b.set(func() { b.enabled = true }) }

// CacheKey overrides key derivation with a fixed key for all methods.
func (b *Behavior) CacheKey(key string) *Behavior { return b.set(func() { b.keyOverride = key }) }

// CacheTags adds invalidation tags to subsequent writes. Tags accumulate
// across calls; the collection name is always included.
func (b *Behavior) CacheTags(tags ...string) *Behavior {
	return b.set(func() { b.tags = append(b.tags, tags...) })
}

// CacheTTL sets the durable lifetime for subsequent writes.
func (b *Behavior) CacheTTL(ttl time.Duration) *Behavior {
	return b.set(func() { b.ttl, b.hasTTL = ttl, true })
}

// CacheStore directs subsequent durable operations at a named store.
func (b *Behavior) CacheStore(name string) *Behavior { return b.set(func() { b.store = name }) }

// WithoutPersistentCache restricts this instance to the ephemeral tier.
func (b *Behavior) WithoutPersistentCache() *Behavior {
	return b.set(func() { b.persistent = false })
}

// WithPersistentCache re-enables the durable tier for this instance.
func (b *Behavior) WithPersistentCache() *Behavior {
	return b.set(func() { b.persistent = true })
}

// DebugInfo is a point-in-time snapshot of the instance configuration and
// the coordinator's counters.
type DebugInfo struct {
	Collection  string
	Enabled     bool
	Persistent  bool
	KeyOverride string
	Tags        []string
	TTL         time.Duration
	Store       string
	TrackedKeys map[string][]string
	Stats       querycache.CombinedStats
}

// DebugInfo reports the current configuration and tracked keys.
func (b *Behavior) DebugInfo() DebugInfo {
	b.mu.Lock()
	info := DebugInfo{
		Collection:  b.exec.Collection(),
		Enabled:     b.enabled,
		Persistent:  b.persistent,
		KeyOverride: b.keyOverride,
		Tags:        slices.Clone(b.tags),
		TTL:         b.ttl,
		Store:       b.store,
		TrackedKeys: map[string][]string{},
	}
	for m, ks := range b.produced {
		info.TrackedKeys[m] = slices.Clone(ks)
	}
	b.mu.Unlock()

	info.Stats = b.coord.Stats()
	return info
}

func (b *Behavior) set(fn func()) *Behavior {
	b.mu.Lock()
	fn()
	b.mu.Unlock()
	return b
}

// cacheKey derives the key for a method invocation, honoring a configured
// override.
func (b *Behavior) cacheKey(method string, args []any) string {
	b.mu.Lock()
	override := b.keyOverride
	b.mu.Unlock()
	if override != "" {
		return override
	}

	desc := b.exec.Describe()
	desc.Method = method
	desc.Arguments = args
	return b.coord.Deriver().DeriveQuery(b.exec.Collection(), desc)
}

// entryOptions translates the instance configuration into per-call
// coordinator options.
func (b *Behavior) entryOptions() []querycache.EntryOption {
	b.mu.Lock()
	defer b.mu.Unlock()

	tags := make([]string, 0, len(b.tags)+1)
	tags = append(tags, b.exec.Collection())
	tags = append(tags, b.tags...)

	opts := []querycache.EntryOption{querycache.WithTags(tags...)}
	if b.hasTTL {
		opts = append(opts, querycache.WithTTL(b.ttl))
	}
	if b.store != "" {
		opts = append(opts, querycache.InStore(b.store))
	}
	if !b.persistent {
		opts = append(opts, querycache.EphemeralOnly())
	}
	return opts
}

func (b *Behavior) track(method, key string) {
	b.mu.Lock()
	if !slices.Contains(b.produced[method], key) {
		b.produced[method] = append(b.produced[method], key)
	}
	b.mu.Unlock()
}
