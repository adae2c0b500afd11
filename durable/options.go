package durable

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mossline/querycache/breaker"
	"github.com/mossline/querycache/retry"
	"github.com/mossline/querycache/store"
)

type config struct {
	stores       map[string]store.Store
	defaultStore string
	firstStore   string

	log      zerolog.Logger
	logLimit *rate.Limiter

	brkCfg *breaker.Config
	retry  retry.Config
}

func defaultConfig() config {
	return config{
		stores: map[string]store.Store{},
		log:    zerolog.Nop(),
		// Backend errors tend to arrive in bursts; keep the log readable.
		logLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Option configures a Cache at construction time.
type Option func(*config)

// WithStore registers a named store. The first registered store becomes
// the default unless WithDefaultStore overrides it.
func WithStore(name string, s store.Store) Option {
	return func(c *config) {
		c.stores[name] = s
		if c.firstStore == "" {
			c.firstStore = name
		}
	}
}

// WithDefaultStore selects the store used when a call names none.
func WithDefaultStore(name string) Option {
	return func(c *config) { c.defaultStore = name }
}

// WithLogger sets the logger for backend errors and capability downgrades.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithLogLimit overrides the rate limit applied to backend-error logging.
// A nil limiter disables throttling.
func WithLogLimit(l *rate.Limiter) Option {
	return func(c *config) { c.logLimit = l }
}

// WithBreaker guards all backend operations with a circuit breaker. While
// the breaker is open, reads report misses and writes report false without
// touching the backend. Unless cfg.OnStateChange is set, state transitions
// are logged through the cache's logger.
func WithBreaker(cfg breaker.Config) Option {
	return func(c *config) { c.brkCfg = &cfg }
}

// WithRetry retries reads that fail with a transient backend error.
// A zero Retryable predicate defaults to store.ErrUnavailable.
func WithRetry(cfg retry.Config) Option {
	return func(c *config) {
		if cfg.Retryable == nil {
			cfg.Retryable = func(err error) bool { return errors.Is(err, store.ErrUnavailable) }
		}
		c.retry = cfg
	}
}

type callOpts struct {
	ttl       time.Duration
	tags      []string
	storeName string
}

// CallOption adjusts a single cache operation.
type CallOption func(*callOpts)

// WithTTL sets the entry lifetime for a write. Zero means no expiry.
func WithTTL(ttl time.Duration) CallOption {
	return func(o *callOpts) { o.ttl = ttl }
}

// WithTags attaches invalidation tags to a write.
func WithTags(tags ...string) CallOption {
	return func(o *callOpts) { o.tags = tags }
}

// InStore directs the operation at a named store instead of the default.
func InStore(name string) CallOption {
	return func(o *callOpts) { o.storeName = name }
}

func applyCallOptions(opts []CallOption) callOpts {
	var o callOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (c *Cache) warn(err error, op, key, storeName string) {
	if c.cfg.logLimit != nil && !c.cfg.logLimit.Allow() {
		return
	}
	c.cfg.log.Warn().
		Err(err).
		Str("op", op).
		Str("key", key).
		Str("store", storeName).
		Msg("durable cache backend error")
}

func (c *Cache) degrade(op, storeName string) {
	if c.cfg.logLimit != nil && !c.cfg.logLimit.Allow() {
		return
	}
	c.cfg.log.Debug().
		Str("op", op).
		Str("store", storeName).
		Msg("store has no tag index, degrading")
}
