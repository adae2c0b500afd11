// Package breaker provides a minimal, thread-safe circuit breaker used to
// guard a durable cache store: while the breaker is open the cache skips
// the backend entirely and reports misses, instead of paying a connection
// timeout on every operation against a dead store.
//
// States:
//   - Closed: operations flow normally; failures are counted.
//   - Open: operations are skipped; after OpenTimeout the breaker moves to HalfOpen.
//   - HalfOpen: a limited number of probe operations are allowed through;
//     if all succeed the breaker closes, any failure reopens it.
package breaker

import (
	"sync"
	"time"
)

// State represents the current circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive backend failures in
	// Closed state before the breaker trips to Open.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays Open before allowing
	// probe operations again.
	OpenTimeout time.Duration

	// HalfOpenProbes is the number of consecutive successes required in
	// HalfOpen state to close the breaker again.
	HalfOpenProbes int

	// OnStateChange, if set, is invoked on every state transition. It runs
	// synchronously with the breaker's lock held and must not call back
	// into the breaker.
	OnStateChange func(from, to State)
}

// DefaultConfig returns parameters suited to a cache store: trip after five
// consecutive failures, hold off for ten seconds, close after two good
// probes.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenProbes:   2,
	}
}

// Breaker is a minimal circuit breaker. All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state     State
	failures  int // consecutive failures in Closed
	successes int // consecutive successes in HalfOpen
	openedAt  time.Time
	nowFunc   func() time.Time // for testing; defaults to time.Now
}

// New creates a Breaker with the given configuration.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:     cfg,
		state:   Closed,
		nowFunc: time.Now,
	}
}

// State returns the current state of the breaker. In Open state it may
// auto-transition to HalfOpen if the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkOpenTimeout()
	return b.state
}

// Allow reports whether a backend operation should be attempted. It returns
// true when the breaker is Closed, or HalfOpen with remaining probe slots.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkOpenTimeout()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return b.successes < b.cfg.HalfOpenProbes
	default: // Open
		return false
	}
}

// OnSuccess records a successful backend operation.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenProbes {
			b.transition(Closed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// OnFailure records a failed backend operation.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
}

// checkOpenTimeout transitions from Open to HalfOpen when the timeout has
// elapsed. Must be called with b.mu held.
func (b *Breaker) checkOpenTimeout() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.transition(HalfOpen)
		b.successes = 0
	}
}

func (b *Breaker) trip() {
	b.transition(Open)
	b.openedAt = b.now()
	b.successes = 0
}

// transition moves to the new state and notifies OnStateChange. Must be
// called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

func (b *Breaker) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}
