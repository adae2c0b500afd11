package querycache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mossline/querycache/durable"
	"github.com/mossline/querycache/ephemeral"
	"github.com/mossline/querycache/keys"
	"github.com/mossline/querycache/tracing"
)

// Option configures a Coordinator.
type Option func(*config)

// WithEphemeral supplies a pre-built ephemeral cache instead of the
// coordinator creating its own.
func WithEphemeral(c *ephemeral.Cache) Option {
	return func(cfg *config) { cfg.eph = c }
}

// WithDurable supplies a pre-built durable cache. WithDefaultStore is
// ignored when this option is used; configure the stores on the durable
// cache directly.
func WithDurable(d *durable.Cache) Option {
	return func(cfg *config) { cfg.dur = d }
}

// WithoutEphemeralTier starts the coordinator with the ephemeral tier
// switched off. It can be switched back on with SetEphemeralEnabled.
func WithoutEphemeralTier() Option {
	return func(cfg *config) { cfg.ephemeralOn = false }
}

// WithoutDurableTier starts the coordinator with the durable tier
// switched off. It can be switched back on with SetDurableEnabled.
func WithoutDurableTier() Option {
	return func(cfg *config) { cfg.durableOn = false }
}

// WithAutoPromote controls whether durable hits are written back into the
// ephemeral tier. Promotion is on by default.
func WithAutoPromote(enabled bool) Option {
	return func(cfg *config) { cfg.autoPromote = enabled }
}

// WithDefaultTTL sets the durable lifetime applied to writes that carry no
// per-call WithTTL. Zero means no expiry.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cfg *config) { cfg.defaultTTL = ttl }
}

// WithDefaultStore names the durable store used when a call names none.
func WithDefaultStore(name string) Option {
	return func(cfg *config) { cfg.defaultStore = name }
}

// WithMaxEphemeralItems bounds the coordinator's own ephemeral cache.
func WithMaxEphemeralItems(n int) Option {
	return func(cfg *config) { cfg.maxEphemeralItems = n }
}

// WithKeyDeriver replaces the key deriver exposed through Deriver().
func WithKeyDeriver(d *keys.Deriver) Option {
	return func(cfg *config) { cfg.deriver = d }
}

// WithTracing enables OpenTelemetry spans for cache operations.
func WithTracing(tc *tracing.Config) Option {
	return func(cfg *config) { cfg.trace = tc }
}

// WithLogger sets the logger handed to a coordinator-created durable tier.
func WithLogger(log zerolog.Logger) Option {
	return func(cfg *config) { cfg.log = log }
}

// entryOpts carries the per-call adjustments for a single operation.
type entryOpts struct {
	ttl    time.Duration
	hasTTL bool
	tags   []string
	store  string

	ephemeralOnly bool
	durableOnly   bool
}

// EntryOption adjusts a single cache operation.
type EntryOption func(*entryOpts)

// WithTTL overrides the default durable lifetime for this write. Zero
// means no expiry.
func WithTTL(ttl time.Duration) EntryOption {
	return func(o *entryOpts) {
		o.ttl = ttl
		o.hasTTL = true
	}
}

// WithTags attaches invalidation tags to this durable write.
func WithTags(tags ...string) EntryOption {
	return func(o *entryOpts) { o.tags = tags }
}

// InStore directs the durable side of this operation at a named store.
func InStore(name string) EntryOption {
	return func(o *entryOpts) { o.store = name }
}

// EphemeralOnly restricts the operation to the ephemeral tier.
func EphemeralOnly() EntryOption {
	return func(o *entryOpts) { o.ephemeralOnly = true }
}

// DurableOnly restricts the operation to the durable tier.
func DurableOnly() EntryOption {
	return func(o *entryOpts) { o.durableOnly = true }
}

func applyEntryOptions(opts []EntryOption) entryOpts {
	var o entryOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// durableOpts translates the read-relevant adjustments.
func (o entryOpts) durableOpts() []durable.CallOption {
	var opts []durable.CallOption
	if o.store != "" {
		opts = append(opts, durable.InStore(o.store))
	}
	return opts
}

// durableTagOpts adds the tag set on top of durableOpts.
func (o entryOpts) durableTagOpts() []durable.CallOption {
	opts := o.durableOpts()
	if len(o.tags) > 0 {
		opts = append(opts, durable.WithTags(o.tags...))
	}
	return opts
}

// durableWriteOpts resolves the effective TTL (per-call override, else the
// coordinator default) on top of durableTagOpts.
func (c *Coordinator) durableWriteOpts(o entryOpts) []durable.CallOption {
	ttl := c.cfg.defaultTTL
	if o.hasTTL {
		ttl = o.ttl
	}
	return append(o.durableTagOpts(), durable.WithTTL(ttl))
}
