package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a map-backed store with TTL and a full tag index. It is the
// reference implementation of [TagStore] and the default backend when no
// external store is wired in.
type Memory struct {
	mu      sync.Mutex
	items   map[string]memEntry
	tagged  map[string]map[string]struct{} // tag -> keys
	keyTags map[string][]string            // key -> tags, for index cleanup
}

type memEntry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

var _ TagStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:   make(map[string]memEntry),
		tagged:  make(map[string]map[string]struct{}),
		keyTags: make(map[string][]string),
	}
}

func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		m.removeLocked(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Put(ctx context.Context, key string, val any, ttl time.Duration) error {
	return m.PutTagged(ctx, key, val, ttl, nil)
}

func (m *Memory) PutTagged(_ context.Context, key string, val any, ttl time.Duration, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-putting a key replaces its tag membership entirely.
	m.detagLocked(key)

	e := memEntry{value: val}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.items[key] = e

	for _, tag := range tags {
		set, ok := m.tagged[tag]
		if !ok {
			set = make(map[string]struct{})
			m.tagged[tag] = set
		}
		set[key] = struct{}{}
	}
	if len(tags) > 0 {
		m.keyTags[key] = append([]string(nil), tags...)
	}
	return nil
}

func (m *Memory) Forget(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[key]; !ok {
		return false, nil
	}
	m.removeLocked(key)
	return true, nil
}

func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]memEntry)
	m.tagged = make(map[string]map[string]struct{})
	m.keyTags = make(map[string][]string)
	return nil
}

func (m *Memory) FlushTags(_ context.Context, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tag := range tags {
		for key := range m.tagged[tag] {
			m.removeLocked(key)
		}
		delete(m.tagged, tag)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of live entries (expired ones included until they
// are lazily collected).
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// removeLocked deletes an entry and its tag index rows. Caller holds m.mu.
func (m *Memory) removeLocked(key string) {
	delete(m.items, key)
	m.detagLocked(key)
}

func (m *Memory) detagLocked(key string) {
	for _, tag := range m.keyTags[key] {
		if set, ok := m.tagged[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.tagged, tag)
			}
		}
	}
	delete(m.keyTags, key)
}
