package conn

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Do without invoking the operation while the
// breaker is cooling down. Callers can tell "nothing was attempted" from
// "attempted and failed".
var ErrBreakerOpen = errors.New("meshcord: circuit breaker open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	Threshold   int           // consecutive failures before tripping
	Cooldown    time.Duration // base open duration
	MaxCooldown time.Duration // cap for the doubled cool-down
}

// Breaker gates attempts against an unhealthy operation. Consecutive
// failures while closed trip it open for a cool-down; after the cool-down a
// single probe is let through. A failed probe re-opens with the cool-down
// doubled, up to the cap; any success closes and resets everything.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     BreakerState
	failures  int
	cooldown  time.Duration
	openUntil time.Time
	probing   bool

	now func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = cfg.Cooldown
	}
	return &Breaker{cfg: cfg, cooldown: cfg.Cooldown, now: time.Now}
}

// Do runs op unless the breaker is open. A fail-fast rejection does not
// count as a failure; only real attempts move the breaker.
func (b *Breaker) Do(op func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op()
	b.settle(err)
	return err
}

// State reports the current state, treating an elapsed cool-down as
// half-open even before the next probe arrives.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && !b.now().Before(b.openUntil) {
		return BreakerHalfOpen
	}
	return b.state
}

// Failures reports the consecutive-failure count while closed.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Before(b.openUntil) {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	default: // half-open: one probe at a time
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		b.cooldown = b.cfg.Cooldown
		b.probing = false
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		b.cooldown = min(b.cooldown*2, b.cfg.MaxCooldown)
		b.trip()
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openUntil = b.now().Add(b.cooldown)
	b.failures = 0
}
