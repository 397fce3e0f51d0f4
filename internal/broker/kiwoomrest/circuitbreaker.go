package kiwoomrest

import (
	"fmt"
	"sync"
	"time"
)

// breakerState is the circuit breaker's current mode.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker trips after maxFailures consecutive call failures and
// rejects every call for resetTimeout before allowing one probe through.
// Adapted from the teacher's internal/store/redis.CircuitBreaker for this
// package's REST calls instead of Redis commands.
type circuitBreaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
}

func newCircuitBreaker(maxFailures int, resetTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

var errCircuitOpen = fmt.Errorf("kiwoomrest: circuit breaker open")

func (cb *circuitBreaker) execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case breakerOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = breakerHalfOpen
		} else {
			cb.mu.Unlock()
			return errCircuitOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == breakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = breakerOpen
		}
		return err
	}
	cb.state = breakerClosed
	cb.failures = 0
	return nil
}
