package querycache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mossline/querycache/durable"
	"github.com/mossline/querycache/ephemeral"
	"github.com/mossline/querycache/keys"
	"github.com/mossline/querycache/store"
)

func TestPutReadsFromEphemeralFirst(t *testing.T) {
	c := New()
	ctx := context.Background()

	if !c.Put(ctx, "query:users:abc", "rows") {
		t.Fatal("Put failed")
	}
	if _, ok := c.Get(ctx, "query:users:abc"); !ok {
		t.Fatal("expected hit")
	}

	s := c.Stats()
	if s.Ephemeral.Hits != 1 {
		t.Fatalf("ephemeral hits = %d, want 1", s.Ephemeral.Hits)
	}
	if s.Durable.Hits != 0 {
		t.Fatalf("durable hits = %d, want 0", s.Durable.Hits)
	}
}

func TestDurableHitIsPromoted(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	c.Ephemeral().Clear()

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected durable hit")
	}
	// Promotion means the next read is served in memory.
	if !c.Ephemeral().Has("k") {
		t.Fatal("expected entry promoted into ephemeral tier")
	}

	c.ResetStats()
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected hit")
	}
	if s := c.Stats(); s.Ephemeral.Hits != 1 || s.Durable.Hits != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestAutoPromoteOff(t *testing.T) {
	c := New(WithAutoPromote(false))
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	c.Ephemeral().Clear()

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected durable hit")
	}
	if c.Ephemeral().Has("k") {
		t.Fatal("promotion is off, entry must stay out of the ephemeral tier")
	}

	c.SetAutoPromote(true)
	c.Get(ctx, "k")
	if !c.Ephemeral().Has("k") {
		t.Fatal("expected promotion after re-enabling")
	}
}

func TestRememberProducesOncePerMiss(t *testing.T) {
	c := New()
	ctx := context.Background()

	calls := 0
	producer := func(context.Context) (any, error) {
		calls++
		return 42, nil
	}

	v, err := c.Remember(ctx, "k", producer)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if v != 42 || calls != 1 {
		t.Fatalf("v=%v calls=%d", v, calls)
	}

	for i := 0; i < 5; i++ {
		if _, err := c.Remember(ctx, "k", producer); err != nil {
			t.Fatalf("Remember: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("producer ran %d times, want 1", calls)
	}
}

func TestRememberProducerErrorCachesNothing(t *testing.T) {
	c := New()
	ctx := context.Background()

	boom := errors.New("query failed")
	_, err := c.Remember(ctx, "k", func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if c.Has(ctx, "k") {
		t.Fatal("failed production must cache nothing in either tier")
	}
}

func TestDisabledTiersAreSkipped(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.SetEphemeralEnabled(false)
	c.Put(ctx, "k", "v")
	if c.Ephemeral().Len() != 0 {
		t.Fatal("disabled ephemeral tier must stay empty")
	}
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected durable hit")
	}

	c.SetDurableEnabled(false)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("both tiers off, expected miss")
	}
	c.Put(ctx, "k2", "v")
	c.SetDurableEnabled(true)
	c.SetEphemeralEnabled(true)
	if c.Has(ctx, "k2") {
		t.Fatal("a write with both tiers off must store nothing")
	}
}

func TestWithoutTierOptions(t *testing.T) {
	c := New(WithoutDurableTier())
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	if c.Durable().Has(ctx, "k") {
		t.Fatal("durable tier is off, nothing may be written to it")
	}
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected ephemeral hit")
	}

	c2 := New(WithoutEphemeralTier())
	c2.Put(ctx, "k", "v")
	if c2.Ephemeral().Len() != 0 {
		t.Fatal("ephemeral tier is off, nothing may be written to it")
	}
	if _, ok := c2.Get(ctx, "k"); !ok {
		t.Fatal("expected durable hit")
	}
}

func TestTierSelectionOptions(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "eph", "v", EphemeralOnly())
	if c.Durable().Has(ctx, "eph") {
		t.Fatal("EphemeralOnly write reached the durable tier")
	}
	if !c.Ephemeral().Has("eph") {
		t.Fatal("EphemeralOnly write missing from the ephemeral tier")
	}

	c.Put(ctx, "dur", "v", DurableOnly())
	if c.Ephemeral().Has("dur") {
		t.Fatal("DurableOnly write reached the ephemeral tier")
	}
	if _, ok := c.Get(ctx, "dur", DurableOnly()); !ok {
		t.Fatal("expected durable hit")
	}
	// DurableOnly reads must not promote.
	if c.Ephemeral().Has("dur") {
		t.Fatal("DurableOnly read must not promote")
	}
}

func TestForgetRemovesFromBothTiers(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	if !c.Forget(ctx, "k") {
		t.Fatal("Forget reported nothing removed")
	}
	if c.Has(ctx, "k") {
		t.Fatal("entry survived Forget")
	}
	if c.Forget(ctx, "k") {
		t.Fatal("second Forget must report false")
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	c := New(WithDefaultTTL(10 * time.Millisecond))
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	c.Ephemeral().Clear()

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected durable entry to expire")
	}
}

func TestPerCallTTLOverridesDefault(t *testing.T) {
	c := New(WithDefaultTTL(10 * time.Millisecond))
	ctx := context.Background()

	c.Put(ctx, "k", "v", WithTTL(0)) // explicit no-expiry
	c.Ephemeral().Clear()

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("WithTTL(0) entry must not expire")
	}
}

func TestFlushTagsInvalidatesDurable(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "query:users:a", 1, WithTags("users"))
	c.Put(ctx, "query:orders:b", 2, WithTags("orders"))
	c.Ephemeral().Clear()

	if !c.FlushTags(ctx, []string{"users"}) {
		t.Fatal("FlushTags failed")
	}
	if _, ok := c.Get(ctx, "query:users:a"); ok {
		t.Fatal("tagged entry survived flush")
	}
	if _, ok := c.Get(ctx, "query:orders:b"); !ok {
		t.Fatal("unrelated entry was flushed")
	}
}

func TestFlushTagsHonorsEphemeralOnly(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "query:users:a", 1, WithTags("users"))
	c.Ephemeral().Clear()

	if c.FlushTags(ctx, []string{"users"}, EphemeralOnly()) {
		t.Fatal("ephemeral-only flush must not report durable work")
	}
	if _, ok := c.Get(ctx, "query:users:a"); !ok {
		t.Fatal("durable entry was flushed by an ephemeral-only call")
	}
}

func TestScopedEphemeralTakesPrecedence(t *testing.T) {
	c := New()

	scoped := ephemeral.New(0)
	ctx := ephemeral.NewContext(context.Background(), scoped)

	c.Put(ctx, "k", "v", EphemeralOnly())
	if c.Ephemeral().Has("k") {
		t.Fatal("write leaked into the coordinator's own ephemeral cache")
	}
	if !scoped.Has("k") {
		t.Fatal("write missing from the scope-bound cache")
	}

	// A context without a binding falls back to the coordinator's cache.
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("unscoped context must not see the scoped entry")
	}
}

func TestNamedStoreRouting(t *testing.T) {
	c := New(WithDurable(durable.New(
		durable.WithStore("primary", store.NewMemory()),
		durable.WithStore("reports", store.NewMemory()),
	)))
	ctx := context.Background()

	c.Put(ctx, "k", "v", InStore("reports"), DurableOnly())
	if _, ok := c.Get(ctx, "k", DurableOnly()); ok {
		t.Fatal("entry must not be visible through the default store")
	}
	if _, ok := c.Get(ctx, "k", InStore("reports"), DurableOnly()); !ok {
		t.Fatal("expected hit in the named store")
	}
}

func TestForgetManyCountsRemovals(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "a", 1)
	c.Put(ctx, "b", 2)
	if got := c.ForgetMany(ctx, []string{"a", "b", "missing"}); got != 2 {
		t.Fatalf("ForgetMany = %d, want 2", got)
	}
	if c.Has(ctx, "a") || c.Has(ctx, "b") {
		t.Fatal("entries survived ForgetMany")
	}
}

func TestFlushEmptiesBothTiers(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "a", 1)
	c.Put(ctx, "b", 2)
	c.Flush(ctx)

	if c.Ephemeral().Len() != 0 {
		t.Fatal("ephemeral tier not emptied")
	}
	if c.Has(ctx, "a") || c.Has(ctx, "b") {
		t.Fatal("durable tier not emptied")
	}
}

func TestRememberForeverSkipsDefaultTTL(t *testing.T) {
	c := New(WithDefaultTTL(10 * time.Millisecond))
	ctx := context.Background()

	if _, err := c.RememberForever(ctx, "k", func(context.Context) (any, error) {
		return "v", nil
	}); err != nil {
		t.Fatalf("RememberForever: %v", err)
	}
	c.Ephemeral().Clear()

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("forever entry must outlive the default TTL")
	}
}

func TestCombinedStatsMerging(t *testing.T) {
	c := New()
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	c.Get(ctx, "k") // ephemeral hit
	c.Ephemeral().Clear()
	c.Get(ctx, "k")       // durable hit
	c.Get(ctx, "missing") // full miss

	s := c.Stats()
	if s.Hits() != 2 {
		t.Fatalf("merged hits = %d, want 2", s.Hits())
	}
	if s.Misses() != 1 {
		t.Fatalf("merged misses = %d, want 1", s.Misses())
	}
	if got := s.HitRate(); got != 2.0/3.0 {
		t.Fatalf("hit rate = %v", got)
	}
	// Two ephemeral writes (the put and the promotion) plus one durable.
	if s.Sets() != 3 {
		t.Fatalf("merged sets = %d, want 3", s.Sets())
	}
	if s.Deletes() != 0 {
		t.Fatalf("merged deletes = %d, want 0", s.Deletes())
	}
}

func TestCombinedStatsDurableOff(t *testing.T) {
	c := New(WithoutDurableTier())
	ctx := context.Background()

	c.Put(ctx, "k", "v")
	c.Get(ctx, "k")       // ephemeral hit
	c.Get(ctx, "missing") // full miss

	s := c.Stats()
	if s.Misses() != 1 {
		t.Fatalf("merged misses = %d, want 1", s.Misses())
	}
	if got := s.HitRate(); got != 0.5 {
		t.Fatalf("hit rate = %v, want 0.5", got)
	}
}

func TestDefaultOptions(t *testing.T) {
	c := New(DefaultOptions()...)
	ctx := context.Background()

	if !c.EphemeralEnabled() || !c.DurableEnabled() || !c.AutoPromote() {
		t.Fatal("defaults must enable both tiers and promotion")
	}
	c.Put(ctx, "k", "v")
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected hit")
	}
}

func TestDeriverRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()

	key := c.Deriver().DeriveQuery("users", keys.QueryDescriptor{
		Collection: "users",
		Method:     "get",
		Filters:    []keys.Filter{{Field: "active", Operator: "==", Value: true}},
	})
	c.Put(ctx, key, []string{"alice"})

	if _, ok := c.Get(ctx, key); !ok {
		t.Fatal("expected hit under derived key")
	}
	if got := keys.Collection(key); got != "users" {
		t.Fatalf("Collection(key) = %q", got)
	}
}
