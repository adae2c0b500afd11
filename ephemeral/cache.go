// Package ephemeral provides the scope-bound cache tier: an in-process
// key/value store with a bounded size, insertion-order FIFO eviction and
// hit/miss statistics. Entries have no TTL and no tags; an instance is
// meant to live exactly as long as one invocation scope (see
// [NewContext]).
package ephemeral

import (
	"container/list"
	"sync"
)

// DefaultMaxItems bounds a cache constructed without an explicit size.
const DefaultMaxItems = 1000

// Cache is a bounded in-process cache. All methods are safe for concurrent
// use, though instances are intended to be scope-local rather than shared.
type Cache struct {
	mu       sync.Mutex
	maxItems int
	enabled  bool

	order *list.List // key insertion order, oldest at front
	items map[string]*entry

	stats Stats
}

type entry struct {
	value any
	elem  *list.Element
}

// New creates a Cache bounded to maxItems entries. Values ≤ 0 fall back to
// [DefaultMaxItems].
func New(maxItems int) *Cache {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Cache{
		maxItems: maxItems,
		enabled:  true,
		order:    list.New(),
		items:    make(map[string]*entry),
	}
}

// Get retrieves a value. When the cache is disabled it reports absent
// without touching statistics.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil, false
	}
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Put stores a value. When the bound would be exceeded the oldest 10% of
// entries (at least one) are evicted first. Re-putting an existing key
// updates the value in place without changing its insertion position.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	if e, ok := c.items[key]; ok {
		e.value = value
		c.stats.Sets++
		return
	}
	if len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	elem := c.order.PushBack(key)
	c.items[key] = &entry{value: value, elem: elem}
	c.stats.Sets++
}

// Has reports whether key is present, without counting a hit or miss.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return false
	}
	_, ok := c.items[key]
	return ok
}

// Forget removes key. It reports whether an entry was removed.
func (c *Cache) Forget(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return false
	}
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(e.elem)
	delete(c.items, key)
	c.stats.Deletes++
	return true
}

// Clear removes every entry. The owning scope calls this at its boundary;
// it is also the release point for the memory the scope accumulated.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}
	c.order.Init()
	c.items = make(map[string]*entry)
	c.stats.Clears++
}

// Remember returns the cached value for key, invoking producer on a miss
// and storing its result. A producer error is returned as-is and nothing
// is stored.
func (c *Cache) Remember(key string, producer func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := producer()
	if err != nil {
		return nil, err
	}
	c.Put(key, v)
	return v, nil
}

// Keys returns all present keys in insertion order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// SetEnabled toggles the cache. Disabling does not drop entries or reset
// statistics; every operation simply becomes a pass-through until the
// cache is re-enabled. The toggle itself counts as no operation.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports the current toggle state.
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Stats returns a copy of the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetStats zeroes all counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

// evictOldest removes the oldest 10% of entries (at least one).
// Caller must hold c.mu.
func (c *Cache) evictOldest() {
	n := max(c.maxItems/10, 1)
	for i := 0; i < n; i++ {
		front := c.order.Front()
		if front == nil {
			return
		}
		key := front.Value.(string)
		c.order.Remove(front)
		delete(c.items, key)
	}
}
