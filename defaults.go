package querycache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mossline/querycache/ephemeral"
	"github.com/mossline/querycache/keys"
)

// DefaultTTL is the durable lifetime applied to writes that carry no
// per-call WithTTL and no WithDefaultTTL override.
const DefaultTTL = time.Hour

// DefaultOptions returns the recommended configuration spelled out as
// options: both tiers on, promotion on, DefaultTTL, and the standard
// ephemeral bound. New applies the same defaults on its own; this exists
// for callers that assemble option slices explicitly.
func DefaultOptions() []Option {
	return []Option{
		WithAutoPromote(true),
		WithDefaultTTL(DefaultTTL),
		WithMaxEphemeralItems(ephemeral.DefaultMaxItems),
	}
}

func defaultCoordinatorConfig() config {
	return config{
		deriver:     keys.NewDeriver(),
		log:         zerolog.Nop(),
		ephemeralOn: true,
		durableOn:   true,
		autoPromote: true,
		defaultTTL:  DefaultTTL,
	}
}
