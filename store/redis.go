package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Redis is a Redis-backed [TagStore]. Values are msgpack-encoded; tags are
// maintained as Redis sets so FlushTags can remove exactly the entries
// written under a tag. Connection-level failures are wrapped in
// [ErrUnavailable]; the durable tier converts them into misses.
//
// Note that values round-trip through msgpack: a struct stored here comes
// back as the decoded generic form (map[string]any and friends), the same
// trade every serializing backend makes.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ TagStore = (*Redis)(nil)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix overrides the key prefix used to namespace this store's
// entries (default "qc").
func WithPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// NewRedis creates a Redis-backed store. The caller owns the client; Close
// closes it.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "qc"}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) k(key string) string    { return r.prefix + ":" + key }
func (r *Redis) tagKey(t string) string { return r.prefix + ":tag:" + t }

func (r *Redis) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := r.client.Get(ctx, r.k(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("store: decode %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, val any, ttl time.Duration) error {
	return r.PutTagged(ctx, key, val, ttl, nil)
}

func (r *Redis) PutTagged(ctx context.Context, key string, val any, ttl time.Duration, tags []string) error {
	data, err := msgpack.Marshal(val)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.k(key), data, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, r.tagKey(tag), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) Forget(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.k(key)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func (r *Redis) Flush(ctx context.Context) error {
	// Only this store's namespace, not the whole database.
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return unavailable(err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return unavailable(err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (r *Redis) FlushTags(ctx context.Context, tags []string) error {
	for _, tag := range tags {
		keys, err := r.client.SMembers(ctx, r.tagKey(tag)).Result()
		if err != nil {
			return unavailable(err)
		}
		del := make([]string, 0, len(keys)+1)
		for _, key := range keys {
			del = append(del, r.k(key))
		}
		del = append(del, r.tagKey(tag))
		if err := r.client.Del(ctx, del...).Err(); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
