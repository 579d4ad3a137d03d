package llm

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// ErrBadResponse marks a provider reply that arrived over a healthy
// connection but cannot be used: a non-2xx status, an empty completion, or a
// body that does not decode. Bad responses are surfaced immediately and are
// never retried.
var ErrBadResponse = errors.New("provider returned an unusable response")

// ErrCircuitOpen is returned when the circuit breaker rejects a call to
// prevent cascading failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// isRetryable reports whether err is a connection-level failure worth another
// attempt: dial/reset errors, timeouts, and deadline expiry. Application
// errors (ErrBadResponse) and cancellation are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBadResponse) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
