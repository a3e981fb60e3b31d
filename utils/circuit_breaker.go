package utils

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker trips after a run of consecutive failures and rejects
// calls until a cooldown elapses. The first call after the cooldown is
// a probe: if it succeeds the breaker closes, if it fails the cooldown
// restarts.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(name string) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
		}
		cb.state = breakerHalfOpen
		cb.probing = true
		return nil
	default: // half-open, one probe in flight
		if cb.probing {
			return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
		}
		cb.probing = true
		return nil
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == breakerHalfOpen {
		cb.probing = false
		if success {
			cb.state = breakerClosed
			cb.failures = 0
		} else {
			cb.state = breakerOpen
			cb.openedAt = time.Now()
		}
		return
	}

	if success {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.state = breakerOpen
		cb.openedAt = time.Now()
	}
}
