package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit is operational and requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit has tripped due to failures and requests are blocked.
	CircuitOpen
	// CircuitHalfOpen means the circuit is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is the duration to wait before attempting to close the circuit again.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults for the circuit breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker trips open after N consecutive provider failures and lets a
// single probe through once ResetAfter has passed.
type CircuitBreaker struct {
	mu               sync.RWMutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
	}
}

// Allow returns true if the circuit breaker allows a request to proceed.
// It transitions to half-open state after the reset timeout expires.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		// Check if enough time has passed to try again
		if time.Since(cb.lastFailure) > cb.resetAfter {
			// Transition to half-open and allow one request through
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf("circuit breaker open: LLM provider appears to be down (failed %d times, last failure %v ago)",
			cb.consecutiveFails, time.Since(cb.lastFailure).Round(time.Second))
	case CircuitHalfOpen:
		// Already have a test request in flight, reject additional requests
		return false, fmt.Errorf("circuit breaker half-open: testing if LLM provider has recovered")
	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure increments the failure count and trips the circuit if threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	// If in half-open, transition back to open
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		return
	}

	// If in closed state, check if we should trip
	if cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveFails
}

// Blocking reports whether Allow would currently reject a request. Unlike
// Allow it never changes state.
func (cb *CircuitBreaker) Blocking() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case CircuitOpen:
		return time.Since(cb.lastFailure) <= cb.resetAfter
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// BreakerClient guards an LLMClient with a CircuitBreaker. Only failures that
// point at the provider (endpoint, timeout, server errors) count against the
// breaker; a bad prompt or an unparseable answer does not.
type BreakerClient struct {
	inner   LLMClient
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerClient wraps inner with a breaker built from cfg.
func NewBreakerClient(inner LLMClient, cfg CircuitBreakerConfig, logger *zap.Logger) *BreakerClient {
	return &BreakerClient{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
		logger:  logger.Named("llm_breaker"),
	}
}

// Complete forwards to the wrapped client unless the circuit is open.
func (b *BreakerClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if !b.inner.IsAvailable() {
		return nil, ErrNotConfigured
	}

	allowed, err := b.breaker.Allow()
	if !allowed {
		return nil, NewError(ErrorTypeUnavailable, "LLM provider temporarily disabled", false, err)
	}

	result, err := b.inner.Complete(ctx, req)
	if err != nil {
		// A caller giving up is not the provider's fault
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if IsRetryable(err) || GetErrorType(err) == ErrorTypeEndpoint {
			b.breaker.RecordFailure()
			if b.breaker.State() == CircuitOpen {
				b.logger.Warn("Circuit breaker opened",
					zap.Int("consecutive_failures", b.breaker.ConsecutiveFailures()),
					zap.Error(err))
			}
		}
		return nil, err
	}

	b.breaker.RecordSuccess()
	return result, nil
}

// IsAvailable is false without a credential or while the breaker blocks calls.
func (b *BreakerClient) IsAvailable() bool {
	return b.inner.IsAvailable() && !b.breaker.Blocking()
}

// GetModel returns the wrapped client's model.
func (b *BreakerClient) GetModel() string {
	return b.inner.GetModel()
}

// GetEndpoint returns the wrapped client's endpoint.
func (b *BreakerClient) GetEndpoint() string {
	return b.inner.GetEndpoint()
}

// Breaker exposes the underlying breaker for health reporting.
func (b *BreakerClient) Breaker() *CircuitBreaker {
	return b.breaker
}
