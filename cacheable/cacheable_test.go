package cacheable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mossline/querycache"
	"github.com/mossline/querycache/keys"
)

// userQuery is a minimal executor over a fixed query shape.
type userQuery struct {
	collection string
	filters    []keys.Filter
}

func (q *userQuery) Collection() string { return q.collection }

func (q *userQuery) Describe() keys.QueryDescriptor {
	return keys.QueryDescriptor{
		Collection: q.collection,
		Filters:    q.filters,
	}
}

func newUserBehavior(coord *querycache.Coordinator) (*Behavior, *int) {
	calls := new(int)
	exec := &userQuery{
		collection: "users",
		filters:    []keys.Filter{{Field: "active", Operator: "==", Value: true}},
	}
	b := New(exec, coord).Register("fetch", func(_ context.Context, args ...any) (any, error) {
		*calls++
		return []string{"alice", "bob"}, nil
	})
	return b, calls
}

func TestCallCachesResult(t *testing.T) {
	coord := querycache.New()
	b, calls := newUserBehavior(coord)
	ctx := context.Background()

	v, err := b.Call(ctx, "fetch")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := v.([]string); len(got) != 2 {
		t.Fatalf("got %v", got)
	}

	for i := 0; i < 5; i++ {
		if _, err := b.Call(ctx, "fetch"); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	if *calls != 1 {
		t.Fatalf("real implementation ran %d times, want 1", *calls)
	}
}

func TestCallSeparatesArguments(t *testing.T) {
	coord := querycache.New()
	b, calls := newUserBehavior(coord)
	ctx := context.Background()

	b.Call(ctx, "fetch", 1)
	b.Call(ctx, "fetch", 2)
	b.Call(ctx, "fetch", 1)
	if *calls != 2 {
		t.Fatalf("real implementation ran %d times, want 2", *calls)
	}
}

func TestUnregisteredMethod(t *testing.T) {
	coord := querycache.New()
	b, _ := newUserBehavior(coord)

	if _, err := b.Call(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unregistered method")
	}
}

func TestCallPropagatesError(t *testing.T) {
	coord := querycache.New()
	boom := errors.New("db down")
	exec := &userQuery{collection: "users"}
	b := New(exec, coord).Register("fetch", func(context.Context, ...any) (any, error) {
		return nil, boom
	})
	ctx := context.Background()

	if _, err := b.Call(ctx, "fetch"); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if b.IsCached(ctx, "fetch") {
		t.Fatal("failed call must cache nothing")
	}
}

func TestWithoutCache(t *testing.T) {
	coord := querycache.New()
	b, calls := newUserBehavior(coord)
	ctx := context.Background()

	b.WithoutCache()
	b.Call(ctx, "fetch")
	b.Call(ctx, "fetch")
	if *calls != 2 {
		t.Fatalf("disabled instance ran the real implementation %d times, want 2", *calls)
	}

	b.WithCache()
	b.Call(ctx, "fetch")
	b.Call(ctx, "fetch")
	if *calls != 3 {
		t.Fatalf("re-enabled instance ran %d times, want 3", *calls)
	}
}

func TestCacheKeyOverride(t *testing.T) {
	coord := querycache.New()
	b, calls := newUserBehavior(coord)
	ctx := context.Background()

	b.CacheKey("query:users:pinned")
	b.Call(ctx, "fetch", 1)
	b.Call(ctx, "fetch", 2) // different args, same overridden key
	if *calls != 1 {
		t.Fatalf("override must collapse all calls onto one key, ran %d times", *calls)
	}
	if _, ok := coord.Get(ctx, "query:users:pinned"); !ok {
		t.Fatal("expected entry under the overridden key")
	}
}

func TestInvalidateCacheIsTargeted(t *testing.T) {
	coord := querycache.New()
	exec := &userQuery{collection: "users"}
	fetches, counts := 0, 0
	b := New(exec, coord).
		Register("fetch", func(context.Context, ...any) (any, error) {
			fetches++
			return "rows", nil
		}).
		Register("count", func(context.Context, ...any) (any, error) {
			counts++
			return 7, nil
		})
	ctx := context.Background()

	b.Call(ctx, "fetch")
	b.Call(ctx, "count")
	b.InvalidateCache(ctx, "fetch")

	b.Call(ctx, "fetch")
	b.Call(ctx, "count")
	if fetches != 2 {
		t.Fatalf("fetch ran %d times, want 2 after invalidation", fetches)
	}
	if counts != 1 {
		t.Fatalf("count ran %d times, want 1", counts)
	}
}

func TestClearCache(t *testing.T) {
	coord := querycache.New()
	b, calls := newUserBehavior(coord)
	ctx := context.Background()

	b.Call(ctx, "fetch")
	b.ClearCache(ctx)
	b.Call(ctx, "fetch")
	if *calls != 2 {
		t.Fatalf("real implementation ran %d times, want 2 after clear", *calls)
	}
}

func TestFlushCacheIsCollectionScoped(t *testing.T) {
	coord := querycache.New()
	users, userCalls := newUserBehavior(coord)
	orders := New(&userQuery{collection: "orders"}, coord).
		Register("fetch", func(context.Context, ...any) (any, error) {
			return "order rows", nil
		})
	ctx := context.Background()

	users.Call(ctx, "fetch")
	orders.Call(ctx, "fetch")

	// An entry for the same collection written outside this instance is
	// still removed, via the ephemeral key scan and the collection tag.
	stray := coord.Deriver().DeriveDocument("users", "u1")
	coord.Put(ctx, stray, "doc", querycache.WithTags("users"))

	users.FlushCache(ctx)

	if coord.Has(ctx, stray) {
		t.Fatal("stray collection entry survived the flush")
	}
	if *userCalls != 1 {
		t.Fatalf("userCalls = %d", *userCalls)
	}
	if _, err := users.Call(ctx, "fetch"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if *userCalls != 2 {
		t.Fatal("flushed entry must be re-produced")
	}
	if !orders.IsCached(ctx, "fetch") {
		t.Fatal("flush of users must not touch orders")
	}
}

func TestIsCachedAndWarmCache(t *testing.T) {
	coord := querycache.New()
	b, calls := newUserBehavior(coord)
	ctx := context.Background()

	if b.IsCached(ctx, "fetch") {
		t.Fatal("nothing cached yet")
	}
	if err := b.WarmCache(ctx, "fetch"); err != nil {
		t.Fatalf("WarmCache: %v", err)
	}
	if !b.IsCached(ctx, "fetch") {
		t.Fatal("expected cached after warm")
	}
	if *calls != 1 {
		t.Fatalf("calls = %d", *calls)
	}
}

func TestWithoutPersistentCache(t *testing.T) {
	coord := querycache.New()
	b, calls := newUserBehavior(coord)
	ctx := context.Background()

	b.WithoutPersistentCache()
	b.Call(ctx, "fetch")
	coord.Ephemeral().Clear()

	// Nothing was written durably, so the call must produce again.
	b.Call(ctx, "fetch")
	if *calls != 2 {
		t.Fatalf("calls = %d, want 2", *calls)
	}
}

func TestNonPersistentFlushLeavesDurableTags(t *testing.T) {
	coord := querycache.New()
	b, _ := newUserBehavior(coord)
	ctx := context.Background()

	// A durable entry sharing the collection tag but written by someone
	// else must survive a flush of an ephemeral-only behavior.
	coord.Put(ctx, "query:users:other", "rows", querycache.WithTags("users"))

	b.WithoutPersistentCache()
	b.Call(ctx, "fetch")
	b.FlushCache(ctx)

	coord.Ephemeral().Clear()
	if _, ok := coord.Get(ctx, "query:users:other"); !ok {
		t.Fatal("ephemeral-only flush swept a durable tag")
	}
}

func TestDebugInfo(t *testing.T) {
	coord := querycache.New()
	b, _ := newUserBehavior(coord)
	ctx := context.Background()

	b.CacheTags("admin").CacheTTL(time.Minute).CacheStore("memory")
	b.Call(ctx, "fetch")

	info := b.DebugInfo()
	if info.Collection != "users" || !info.Enabled || !info.Persistent {
		t.Fatalf("info = %+v", info)
	}
	if info.TTL != time.Minute || info.Store != "memory" {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Tags) != 1 || info.Tags[0] != "admin" {
		t.Fatalf("tags = %v", info.Tags)
	}
	if len(info.TrackedKeys["fetch"]) != 1 {
		t.Fatalf("tracked = %v", info.TrackedKeys)
	}
	if info.Stats.Ephemeral.Sets == 0 {
		t.Fatal("expected live statistics")
	}
}
