package store

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Ristretto is an in-process store backed by ristretto. It supports TTL but
// carries no tag index, so tag operations on a durable cache using this
// backend degrade to no-ops. Useful as a process-shared durable tier when
// no external backend is deployed.
type Ristretto struct {
	rc *ristretto.Cache[string, any]
}

var _ Store = (*Ristretto)(nil)

// NewRistretto creates a ristretto-backed store. maxItems controls the
// maximum cost the cache can hold (each entry has a cost of 1).
func NewRistretto(maxItems int64) (*Ristretto, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{rc: rc}, nil
}

func (r *Ristretto) Get(_ context.Context, key string) (any, bool, error) {
	v, ok := r.rc.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func (r *Ristretto) Put(_ context.Context, key string, val any, ttl time.Duration) error {
	r.rc.SetWithTTL(key, val, 1, ttl)
	r.rc.Wait()
	return nil
}

func (r *Ristretto) Forget(_ context.Context, key string) (bool, error) {
	_, had := r.rc.Get(key)
	r.rc.Del(key)
	r.rc.Wait()
	return had, nil
}

func (r *Ristretto) Flush(_ context.Context) error {
	r.rc.Clear()
	return nil
}

func (r *Ristretto) Close() error {
	r.rc.Close()
	return nil
}
