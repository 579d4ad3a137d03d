package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig holds the configuration for a provider circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip the circuit.
	MaxFailures uint32

	// Timeout is the duration the circuit stays open before transitioning to half-open.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes required in
	// half-open state to close the circuit again.
	HalfOpenMaxSuccesses uint32
}

// CircuitBreaker wraps gobreaker to protect provider calls from cascading
// failures. When open, calls fail immediately with ErrCircuitOpen instead of
// hammering an unreachable service.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a circuit breaker with default configuration:
// 3 consecutive failures open the circuit for 30 seconds, and 2 successes in
// half-open state close it again.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(name, CircuitBreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewCircuitBreakerWithConfig creates a circuit breaker with custom configuration.
func NewCircuitBreakerWithConfig(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: config.HalfOpenMaxSuccesses,
			Timeout:     config.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
		}),
	}
}

// Execute runs fn through the circuit breaker. A cancelled context counts as
// a failure without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State returns the current state: "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
