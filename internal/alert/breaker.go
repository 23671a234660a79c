package alert

import (
	"sync"
	"time"
)

// CircuitBreaker stops delivery attempts to an endpoint that keeps failing
type CircuitBreaker struct {
	failures    int
	lastFailure time.Time
	threshold   int
	timeout     time.Duration
	now         func() time.Time
	mu          sync.Mutex
}

// NewCircuitBreaker opens after threshold consecutive failures and closes
// again once timeout has passed since the last one
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// IsOpen reports whether requests are currently blocked
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	elapsed := cb.now().Sub(cb.lastFailure)
	if cb.failures >= cb.threshold && elapsed < cb.timeout {
		return true
	}
	if elapsed >= cb.timeout {
		cb.failures = 0
	}
	return false
}

// RecordSuccess closes the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

// RecordFailure counts a failed delivery
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = cb.now()
}
