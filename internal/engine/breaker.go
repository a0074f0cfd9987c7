package engine

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed allows full parallel execution.
	BreakerClosed BreakerState = iota
	// BreakerOpen degrades execution to sequential until the cool-down
	// passes.
	BreakerOpen
	// BreakerHalfOpen runs sequentially while a probe attempt decides
	// whether to close again.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker over attempt outcomes. When the failure
// fraction in a sliding window of recent attempts exceeds the
// threshold, the breaker opens and the engine falls back to sequential
// execution; after the cool-down a probe attempt decides whether to
// restore parallelism. It never stops execution, it only removes
// concurrency.
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	window   []bool // true = failure
	size     int
	ratio    float64
	cooldown time.Duration
	openedAt time.Time
	// now is stubbed in tests.
	now func() time.Time
}

// NewBreaker creates a breaker that opens when more than ratio of the
// last size attempts failed, and stays open for cooldown.
func NewBreaker(size int, ratio float64, cooldown time.Duration) *Breaker {
	if size <= 0 {
		size = 10
	}
	if ratio <= 0 {
		ratio = 0.5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		size:     size,
		ratio:    ratio,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// State returns the current state, transitioning open to half-open
// when the cool-down has passed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// Sequential reports whether the engine must run tasks one at a time.
func (b *Breaker) Sequential() bool {
	return b.State() != BreakerClosed
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
	}
}

// Record feeds one attempt outcome into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()

	switch b.state {
	case BreakerHalfOpen:
		if success {
			// Probe succeeded, restore parallelism with a clean window.
			b.state = BreakerClosed
			b.window = nil
		} else {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerOpen:
		// Outcomes while open neither help nor hurt; the cool-down and
		// the probe decide.
	case BreakerClosed:
		b.window = append(b.window, !success)
		if len(b.window) > b.size {
			b.window = b.window[len(b.window)-b.size:]
		}
		if len(b.window) >= b.size && b.failureFractionLocked() > b.ratio {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	}
}

func (b *Breaker) failureFractionLocked() float64 {
	if len(b.window) == 0 {
		return 0
	}
	failures := 0
	for _, f := range b.window {
		if f {
			failures++
		}
	}
	return float64(failures) / float64(len(b.window))
}
