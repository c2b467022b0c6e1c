// Package resilience guards dialing of cache servers with a circuit breaker.
//
// After FailureThreshold consecutive dial failures the breaker opens and
// dials fail immediately with ErrCircuitOpen until Cooldown has passed. The
// breaker then lets a single probe dial through (half-open); a success
// closes it again, a failure re-opens it.
//
//	Closed -> Open -> HalfOpen -> Closed
//	            ^         |
//	            +---------+
package resilience

import (
	"sync"
	"time"
)

// State is the state of a Breaker.
type State int

const (
	// StateClosed lets every dial through.
	StateClosed State = iota
	// StateOpen rejects dials.
	StateOpen
	// StateHalfOpen lets one probe dial through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Zero disables the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// DefaultConfig returns a disabled breaker configuration with a 5s cooldown.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 0,
		Cooldown:         5 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. A nil *Breaker allows
// everything.
type Breaker struct {
	mu       sync.Mutex
	name     string
	cfg      Config
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// New creates a breaker. It returns nil when cfg.FailureThreshold <= 0.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		return nil
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Allow reports whether a dial may proceed. In the half-open state only one
// caller is let through until it reports its result.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			BreakerRejections.Inc()
			return false
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			BreakerRejections.Inc()
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Success records a successful dial.
func (b *Breaker) Success() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.setState(StateClosed)
}

// Failure records a failed dial.
func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	log.WithField("breaker", b.name).
		WithField("from", b.state.String()).
		WithField("to", s.String()).
		Info("dial circuit breaker state transition")
	if s == StateOpen {
		BreakerTrips.Inc()
	}
	b.state = s
}
