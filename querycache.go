// Package querycache coordinates a two-tier cache for query results: a
// scope-bound in-process tier served from memory and a durable tier backed
// by pluggable stores with TTL and tag support.
//
// Reads consult the ephemeral tier first, then the durable tier; a durable
// hit is promoted back into the ephemeral tier so repeated lookups within
// the same scope stay in memory. Writes go to every enabled tier. Durable
// backend failures never surface to callers: they read as misses and
// rejected writes.
package querycache

import (
	"context"
	"sync"

	"github.com/mossline/querycache/durable"
	"github.com/mossline/querycache/ephemeral"
	"github.com/mossline/querycache/keys"
	"github.com/mossline/querycache/tracing"
)

// Coordinator routes cache operations across the two tiers. All methods
// are safe for concurrent use.
type Coordinator struct {
	cfg config

	eph *ephemeral.Cache
	dur *durable.Cache

	mu          sync.Mutex
	ephemeralOn bool
	durableOn   bool
	autoPromote bool
}

// CombinedStats holds a snapshot of both tiers' counters. DurableOn
// records whether the durable tier participated when the snapshot was
// taken; the merged accessors use it to pick the authoritative miss
// counter.
type CombinedStats struct {
	Ephemeral ephemeral.Stats
	Durable   durable.Stats
	DurableOn bool
}

// Hits returns the merged hit count across both tiers.
func (s CombinedStats) Hits() uint64 { return s.Ephemeral.Hits + s.Durable.Hits }

// Misses returns the full-miss count. A lookup only counts as a full miss
// once no tier answered: with the durable tier on it is the last to be
// consulted and records every such lookup; with it off the ephemeral
// counter is the authoritative one.
func (s CombinedStats) Misses() uint64 {
	if s.DurableOn {
		return s.Durable.Misses
	}
	return s.Ephemeral.Misses
}

// Sets returns the merged write count across both tiers.
func (s CombinedStats) Sets() uint64 { return s.Ephemeral.Sets + s.Durable.Sets }

// Deletes returns the merged removal count across both tiers.
func (s CombinedStats) Deletes() uint64 { return s.Ephemeral.Deletes + s.Durable.Deletes }

// HitRate returns hits / (hits + misses) across both tiers, or 0 before
// any lookup.
func (s CombinedStats) HitRate() float64 {
	total := s.Hits() + s.Misses()
	if total == 0 {
		return 0
	}
	return float64(s.Hits()) / float64(total)
}

// New creates a coordinator. Without options it runs both tiers with an
// in-memory durable store, promotes durable hits and applies DefaultTTL
// to durable writes.
func New(opts ...Option) *Coordinator {
	cfg := defaultCoordinatorConfig()
	for _, o := range opts {
		o(&cfg)
	}

	eph := cfg.eph
	if eph == nil {
		eph = ephemeral.New(cfg.maxEphemeralItems)
	}
	dur := cfg.dur
	if dur == nil {
		durOpts := []durable.Option{durable.WithLogger(cfg.log)}
		if cfg.defaultStore != "" {
			durOpts = append(durOpts, durable.WithDefaultStore(cfg.defaultStore))
		}
		dur = durable.New(durOpts...)
	}

	return &Coordinator{
		cfg:         cfg,
		eph:         eph,
		dur:         dur,
		ephemeralOn: cfg.ephemeralOn,
		durableOn:   cfg.durableOn,
		autoPromote: cfg.autoPromote,
	}
}

// Deriver returns the key deriver used by callers that build keys from
// query shapes.
func (c *Coordinator) Deriver() *keys.Deriver { return c.cfg.deriver }

// Ephemeral returns the coordinator's own ephemeral cache. Note that a
// cache bound to the context via [ephemeral.NewContext] takes precedence
// over this one for the duration of that context.
func (c *Coordinator) Ephemeral() *ephemeral.Cache { return c.eph }

// Durable returns the durable tier.
func (c *Coordinator) Durable() *durable.Cache { return c.dur }

// ephemeralFor selects the scope-bound cache carried by ctx, falling back
// to the coordinator's own.
func (c *Coordinator) ephemeralFor(ctx context.Context) *ephemeral.Cache {
	if scoped := ephemeral.FromContext(ctx); scoped != nil {
		return scoped
	}
	return c.eph
}

// Get looks key up tier by tier. A durable hit is written back into the
// ephemeral tier when promotion is on.
func (c *Coordinator) Get(ctx context.Context, key string, opts ...EntryOption) (any, bool) {
	eo := applyEntryOptions(opts)
	ctx, span := tracing.StartOp(ctx, c.cfg.trace, "get", key)
	defer span.End()

	if c.EphemeralEnabled() && !eo.durableOnly {
		if v, ok := c.ephemeralFor(ctx).Get(key); ok {
			tracing.RecordLookup(span, "ephemeral", true)
			return v, true
		}
	}
	if c.DurableEnabled() && !eo.ephemeralOnly {
		if v, ok := c.dur.Get(ctx, key, eo.durableOpts()...); ok {
			if c.AutoPromote() && c.EphemeralEnabled() && !eo.durableOnly {
				c.ephemeralFor(ctx).Put(key, v)
			}
			tracing.RecordLookup(span, "durable", true)
			return v, true
		}
	}
	tracing.RecordLookup(span, "", false)
	return nil, false
}

// Has reports whether key is present in any enabled tier.
func (c *Coordinator) Has(ctx context.Context, key string, opts ...EntryOption) bool {
	eo := applyEntryOptions(opts)
	if c.EphemeralEnabled() && !eo.durableOnly && c.ephemeralFor(ctx).Has(key) {
		return true
	}
	if c.DurableEnabled() && !eo.ephemeralOnly {
		return c.dur.Has(ctx, key, eo.durableOpts()...)
	}
	return false
}

// Put writes the value to every enabled tier the options select. It
// reports whether all selected enabled tiers accepted the write; a tier
// that is disabled or deselected does not count against the result.
func (c *Coordinator) Put(ctx context.Context, key string, val any, opts ...EntryOption) bool {
	eo := applyEntryOptions(opts)
	ctx, span := tracing.StartOp(ctx, c.cfg.trace, "put", key)
	defer span.End()

	ok := true
	if c.EphemeralEnabled() && !eo.durableOnly {
		c.ephemeralFor(ctx).Put(key, val)
	}
	if c.DurableEnabled() && !eo.ephemeralOnly {
		ok = c.dur.Put(ctx, key, val, c.durableWriteOpts(eo)...)
	}
	return ok
}

// Forever writes the value with no durable expiry, ignoring WithTTL.
func (c *Coordinator) Forever(ctx context.Context, key string, val any, opts ...EntryOption) bool {
	eo := applyEntryOptions(opts)

	ok := true
	if c.EphemeralEnabled() && !eo.durableOnly {
		c.ephemeralFor(ctx).Put(key, val)
	}
	if c.DurableEnabled() && !eo.ephemeralOnly {
		ok = c.dur.Forever(ctx, key, val, eo.durableTagOpts()...)
	}
	return ok
}

// Forget removes key from every enabled tier. It reports whether any tier
// held the entry.
func (c *Coordinator) Forget(ctx context.Context, key string, opts ...EntryOption) bool {
	eo := applyEntryOptions(opts)
	ctx, span := tracing.StartOp(ctx, c.cfg.trace, "forget", key)
	defer span.End()

	removed := false
	if c.EphemeralEnabled() && !eo.durableOnly {
		removed = c.ephemeralFor(ctx).Forget(key)
	}
	if c.DurableEnabled() && !eo.ephemeralOnly {
		if c.dur.Forget(ctx, key, eo.durableOpts()...) {
			removed = true
		}
	}
	return removed
}

// ForgetMany removes each key from every enabled tier and reports how
// many of them were held somewhere.
func (c *Coordinator) ForgetMany(ctx context.Context, cacheKeys []string, opts ...EntryOption) int {
	removed := 0
	for _, key := range cacheKeys {
		if c.Forget(ctx, key, opts...) {
			removed++
		}
	}
	return removed
}

// Flush empties every enabled tier the options select.
func (c *Coordinator) Flush(ctx context.Context, opts ...EntryOption) {
	eo := applyEntryOptions(opts)
	ctx, span := tracing.StartOp(ctx, c.cfg.trace, "flush", "")
	defer span.End()

	if c.EphemeralEnabled() && !eo.durableOnly {
		c.ephemeralFor(ctx).Clear()
	}
	if c.DurableEnabled() && !eo.ephemeralOnly {
		c.dur.Clear(ctx, eo.durableOpts()...)
	}
}

// FlushTags removes all durable entries written under any of the tags.
// The ephemeral tier has no tag index and is not touched; use Flush or
// Forget for scope-bound entries.
func (c *Coordinator) FlushTags(ctx context.Context, tags []string, opts ...EntryOption) bool {
	eo := applyEntryOptions(opts)
	// Tags live only in the durable tier, so a call restricted to the
	// ephemeral tier has nothing to flush.
	if eo.ephemeralOnly || !c.DurableEnabled() {
		return false
	}
	ctx, span := tracing.StartOp(ctx, c.cfg.trace, "flush-tags", "")
	defer span.End()

	return c.dur.FlushTags(ctx, tags, eo.durableOpts()...)
}

// Remember returns the cached value for key, invoking producer on a miss
// and writing the result to every enabled tier. The producer runs at most
// once per call; its error is returned as-is and nothing is cached.
// Concurrent callers that all miss each run their own producer.
func (c *Coordinator) Remember(ctx context.Context, key string, producer func(context.Context) (any, error), opts ...EntryOption) (any, error) {
	ctx, span := tracing.StartOp(ctx, c.cfg.trace, "remember", key)
	defer span.End()

	if v, ok := c.Get(ctx, key, opts...); ok {
		return v, nil
	}
	v, err := producer(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	c.Put(ctx, key, v, opts...)
	return v, nil
}

// RememberForever is Remember with no durable expiry on the produced
// value.
func (c *Coordinator) RememberForever(ctx context.Context, key string, producer func(context.Context) (any, error), opts ...EntryOption) (any, error) {
	if v, ok := c.Get(ctx, key, opts...); ok {
		return v, nil
	}
	v, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	c.Forever(ctx, key, v, opts...)
	return v, nil
}

// SetEphemeralEnabled toggles the ephemeral tier for subsequent calls.
func (c *Coordinator) SetEphemeralEnabled(enabled bool) {
	c.mu.Lock()
	c.ephemeralOn = enabled
	c.mu.Unlock()
}

// SetDurableEnabled toggles the durable tier for subsequent calls.
func (c *Coordinator) SetDurableEnabled(enabled bool) {
	c.mu.Lock()
	c.durableOn = enabled
	c.mu.Unlock()
}

// SetAutoPromote toggles promotion of durable hits into the ephemeral tier.
func (c *Coordinator) SetAutoPromote(enabled bool) {
	c.mu.Lock()
	c.autoPromote = enabled
	c.mu.Unlock()
}

// EphemeralEnabled reports whether the ephemeral tier participates.
func (c *Coordinator) EphemeralEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ephemeralOn
}

// DurableEnabled reports whether the durable tier participates.
func (c *Coordinator) DurableEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durableOn
}

// AutoPromote reports whether durable hits are promoted.
func (c *Coordinator) AutoPromote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoPromote
}

// Stats returns a snapshot of both tiers' counters. The ephemeral numbers
// cover the coordinator's own cache, not context-bound ones.
func (c *Coordinator) Stats() CombinedStats {
	return CombinedStats{
		Ephemeral: c.eph.Stats(),
		Durable:   c.dur.Stats(),
		DurableOn: c.DurableEnabled(),
	}
}

// ResetStats zeroes the counters of both tiers.
func (c *Coordinator) ResetStats() {
	c.eph.ResetStats()
	c.dur.ResetStats()
}

// Close releases the durable tier's store resources.
func (c *Coordinator) Close() error { return c.dur.Close() }
