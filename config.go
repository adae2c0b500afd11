package querycache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mossline/querycache/durable"
	"github.com/mossline/querycache/ephemeral"
	"github.com/mossline/querycache/keys"
	"github.com/mossline/querycache/tracing"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	eph *ephemeral.Cache
	dur *durable.Cache

	deriver *keys.Deriver
	trace   *tracing.Config
	log     zerolog.Logger

	ephemeralOn bool
	durableOn   bool
	autoPromote bool

	defaultTTL        time.Duration
	defaultStore      string
	maxEphemeralItems int
}
