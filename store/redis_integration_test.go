package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("cannot reach Redis at %s: %v", addr, err)
	}
	r := NewRedis(client, WithPrefix("qc-test-"+t.Name()))
	t.Cleanup(func() {
		_ = r.Flush(context.Background())
		_ = r.Close()
	})
	return r
}

func TestRedis_GetPut(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()

	if _, ok, err := r.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := r.Put(ctx, "k", "v1", 30*time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := r.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if v != "v1" {
		t.Fatalf("got %v, want v1", v)
	}
}

func TestRedis_FlushTagsSelectivity(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()

	_ = r.PutTagged(ctx, "a", "1", 30*time.Second, []string{"T"})
	_ = r.PutTagged(ctx, "b", "2", 30*time.Second, []string{"T"})
	_ = r.PutTagged(ctx, "c", "3", 30*time.Second, nil)

	if err := r.FlushTags(ctx, []string{"T"}); err != nil {
		t.Fatalf("FlushTags: %v", err)
	}

	if _, ok, _ := r.Get(ctx, "a"); ok {
		t.Fatal("tagged entry a survived")
	}
	if _, ok, _ := r.Get(ctx, "b"); ok {
		t.Fatal("tagged entry b survived")
	}
	if v, ok, _ := r.Get(ctx, "c"); !ok || v != "3" {
		t.Fatal("untagged entry c was removed")
	}
}

func TestRedis_FlushOnlyOwnNamespace(t *testing.T) {
	r := testRedis(t)
	ctx := context.Background()

	other := NewRedis(redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDR")}), WithPrefix("qc-test-other"))
	t.Cleanup(func() {
		_ = other.Flush(context.Background())
		_ = other.Close()
	})

	_ = r.Put(ctx, "mine", "1", 30*time.Second)
	_ = other.Put(ctx, "theirs", "2", 30*time.Second)

	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok, _ := r.Get(ctx, "mine"); ok {
		t.Fatal("own entry survived Flush")
	}
	if _, ok, _ := other.Get(ctx, "theirs"); !ok {
		t.Fatal("Flush crossed store namespaces")
	}
}

func TestRedis_UnreachableWrapsErrUnavailable(t *testing.T) {
	// Bogus address: operations must fail with ErrUnavailable so the
	// durable tier can classify the failure as transient.
	r := NewRedis(redis.NewClient(&redis.Options{Addr: "localhost:1"}))
	t.Cleanup(func() { _ = r.Close() })

	_, _, err := r.Get(context.Background(), "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if err := r.Put(context.Background(), "k", "v", time.Second); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}
