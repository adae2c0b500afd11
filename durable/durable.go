// Package durable provides the cross-invocation cache tier: a thin layer
// over one or more pluggable backing stores that adds TTL and tag
// semantics, per-tier statistics and a strict best-effort error policy.
//
// No backend failure ever propagates to the caller. A broken, unknown or
// unreachable store turns reads into misses and writes into a false return
// value; capability gaps (tag operations on a store without a tag index)
// degrade to logged no-ops. Breaking the cache may only ever cost latency,
// never correctness.
package durable

import (
	"context"
	"errors"
	"time"

	"github.com/mossline/querycache/breaker"
	"github.com/mossline/querycache/retry"
	"github.com/mossline/querycache/store"
)

// Cache is the durable tier. All methods are safe for concurrent use.
type Cache struct {
	cfg config
	brk *breaker.Breaker

	mu      muState
	enabled bool
}

// New creates a durable cache over the configured stores. Without a
// WithStore option it falls back to a single in-memory store named
// "memory".
func New(opts ...Option) *Cache {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if len(cfg.stores) == 0 {
		cfg.stores = map[string]store.Store{"memory": store.NewMemory()}
		cfg.defaultStore = "memory"
	}
	if cfg.defaultStore == "" {
		cfg.defaultStore = cfg.firstStore
	}
	c := &Cache{cfg: cfg, enabled: true}
	if cfg.brkCfg != nil {
		// Built here, not in the option, so transitions are logged through
		// the logger regardless of option order.
		bc := *cfg.brkCfg
		if bc.OnStateChange == nil {
			log := cfg.log
			bc.OnStateChange = func(from, to breaker.State) {
				log.Warn().
					Stringer("from", from).
					Stringer("to", to).
					Msg("cache store breaker changed state")
			}
		}
		c.brk = breaker.New(bc)
	}
	return c
}

// Get retrieves a value. Backend errors are converted into a miss.
func (c *Cache) Get(ctx context.Context, key string, opts ...CallOption) (any, bool) {
	if !c.Enabled() {
		return nil, false
	}
	name, s, ok := c.resolve(applyCallOptions(opts).storeName)
	if !ok {
		c.mu.countMiss()
		return nil, false
	}
	if !c.allow() {
		c.mu.countMiss()
		return nil, false
	}

	val, present, err := c.readStore(ctx, s, key)
	if err != nil {
		c.observeFailure()
		c.warn(err, "get", key, name)
		c.mu.countMiss()
		return nil, false
	}
	c.observeSuccess()
	if !present {
		c.mu.countMiss()
		return nil, false
	}
	c.mu.countHit()
	return val, true
}

// Has reports presence without counting a hit or miss.
func (c *Cache) Has(ctx context.Context, key string, opts ...CallOption) bool {
	if !c.Enabled() {
		return false
	}
	name, s, ok := c.resolve(applyCallOptions(opts).storeName)
	if !ok || !c.allow() {
		return false
	}
	_, present, err := s.Get(ctx, key)
	if err != nil {
		c.observeFailure()
		c.warn(err, "has", key, name)
		return false
	}
	c.observeSuccess()
	return present
}

// Put stores a value with the given per-call TTL (zero means no expiry)
// and tags. It reports whether the backend accepted the write. Tag writes
// against a store without a tag index degrade to untagged writes.
func (c *Cache) Put(ctx context.Context, key string, val any, opts ...CallOption) bool {
	co := applyCallOptions(opts)
	return c.put(ctx, key, val, co.ttl, co.tags, co.storeName)
}

// Forever stores a value with no expiry. Any WithTTL option is ignored.
func (c *Cache) Forever(ctx context.Context, key string, val any, opts ...CallOption) bool {
	co := applyCallOptions(opts)
	return c.put(ctx, key, val, 0, co.tags, co.storeName)
}

func (c *Cache) put(ctx context.Context, key string, val any, ttl time.Duration, tags []string, storeName string) bool {
	if !c.Enabled() {
		return false
	}
	name, s, ok := c.resolve(storeName)
	if !ok || !c.allow() {
		return false
	}

	var err error
	if len(tags) > 0 {
		if ts, tagged := s.(store.TagStore); tagged {
			err = ts.PutTagged(ctx, key, val, ttl, tags)
		} else {
			c.degrade("put-tagged", name)
			err = s.Put(ctx, key, val, ttl)
		}
	} else {
		err = s.Put(ctx, key, val, ttl)
	}
	if err != nil {
		c.observeFailure()
		c.warn(err, "put", key, name)
		return false
	}
	c.observeSuccess()
	c.mu.countSet()
	return true
}

// Forget removes a key. It reports whether an entry was removed.
func (c *Cache) Forget(ctx context.Context, key string, opts ...CallOption) bool {
	if !c.Enabled() {
		return false
	}
	name, s, ok := c.resolve(applyCallOptions(opts).storeName)
	if !ok || !c.allow() {
		return false
	}
	removed, err := s.Forget(ctx, key)
	if err != nil {
		c.observeFailure()
		c.warn(err, "forget", key, name)
		return false
	}
	c.observeSuccess()
	if removed {
		c.mu.countDelete()
	}
	return removed
}

// Clear removes every entry of the selected store.
func (c *Cache) Clear(ctx context.Context, opts ...CallOption) bool {
	if !c.Enabled() {
		return false
	}
	name, s, ok := c.resolve(applyCallOptions(opts).storeName)
	if !ok || !c.allow() {
		return false
	}
	if err := s.Flush(ctx); err != nil {
		c.observeFailure()
		c.warn(err, "clear", "", name)
		return false
	}
	c.observeSuccess()
	c.mu.countClear()
	return true
}

// FlushTags removes every entry written under at least one of tags. On a
// store without a tag index this is a logged no-op and reports false;
// callers must not assume tag-based flush is reliable on every backend.
func (c *Cache) FlushTags(ctx context.Context, tags []string, opts ...CallOption) bool {
	if !c.Enabled() || len(tags) == 0 {
		return false
	}
	name, s, ok := c.resolve(applyCallOptions(opts).storeName)
	if !ok || !c.allow() {
		return false
	}
	ts, tagged := s.(store.TagStore)
	if !tagged {
		c.degrade("flush-tags", name)
		return false
	}
	if err := ts.FlushTags(ctx, tags); err != nil {
		c.observeFailure()
		c.warn(err, "flush-tags", "", name)
		return false
	}
	c.observeSuccess()
	c.mu.countDelete()
	return true
}

// Remember returns the cached value for key, invoking producer on a miss
// and storing the result. A producer error is returned as-is and nothing
// is stored. When the tier is disabled the producer runs on every call.
func (c *Cache) Remember(ctx context.Context, key string, producer func(context.Context) (any, error), opts ...CallOption) (any, error) {
	if v, ok := c.Get(ctx, key, opts...); ok {
		return v, nil
	}
	v, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, key, v, opts...)
	return v, nil
}

// SetEnabled toggles the tier. Disabled operations are pass-throughs and
// touch neither the backend nor the statistics.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// Enabled reports the current toggle state.
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Stats returns a copy of the current counters.
func (c *Cache) Stats() Stats { return c.mu.snapshot() }

// ResetStats zeroes all counters.
func (c *Cache) ResetStats() { c.mu.reset() }

// Close closes every configured store, returning the first error.
func (c *Cache) Close() error {
	var firstErr error
	for _, s := range c.cfg.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resolve maps a per-call store name (or "" for the default) to a store.
// Unknown names are logged and reported as absent, never as an error.
func (c *Cache) resolve(name string) (string, store.Store, bool) {
	if name == "" {
		name = c.cfg.defaultStore
	}
	s, ok := c.cfg.stores[name]
	if !ok {
		c.warn(errUnknownStore, "resolve", "", name)
		return name, nil, false
	}
	return name, s, true
}

var errUnknownStore = errors.New("durable: unknown store name")

// readStore performs a single read, retrying transient backend errors when
// a retry policy is configured. Writes are never retried.
func (c *Cache) readStore(ctx context.Context, s store.Store, key string) (any, bool, error) {
	if c.cfg.retry.MaxAttempts <= 1 {
		return s.Get(ctx, key)
	}
	type result struct {
		val any
		ok  bool
	}
	res, err := retry.Do(ctx, c.cfg.retry, func(ctx context.Context) (result, error) {
		v, ok, err := s.Get(ctx, key)
		return result{v, ok}, err
	})
	return res.val, res.ok, err
}

func (c *Cache) allow() bool {
	return c.brk == nil || c.brk.Allow()
}

func (c *Cache) observeSuccess() {
	if c.brk != nil {
		c.brk.OnSuccess()
	}
}

func (c *Cache) observeFailure() {
	if c.brk != nil {
		c.brk.OnFailure()
	}
}
