package providers

import (
	"sync"
	"time"
)

// breaker is a per-adapter circuit breaker. A counted failure increments
// the counter; reaching the threshold opens the circuit for the cooldown,
// during which fetches short-circuit without touching the network. State
// is process-lifetime only.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// isOpen reports whether calls should currently short-circuit.
func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// recordFailure counts one retry-exhausted failure, opening the circuit
// once the threshold is reached.
func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// recordSuccess resets the counter and closes the circuit.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
