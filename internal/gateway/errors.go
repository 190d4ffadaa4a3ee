package gateway

import (
	"fmt"
	"time"
)

// UnavailableError means the gateway cannot be used right now: the transport
// is down, authentication is exhausted, backoff is active, or the device
// returned an empty snapshot. It is the only error class the poll loop treats
// as "device down".
type UnavailableError struct {
	Reason  string
	RetryIn time.Duration // non-zero when backoff blocked the attempt
	// Kind preserves the classification of the underlying failure. The zero
	// value means connection-level unavailability; auth-origin failures set
	// FailureAuth so the wrap does not mask them as connection problems.
	Kind  FailureKind
	cause error
}

func (e *UnavailableError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("%s (retry in %s)", e.Reason, e.RetryIn.Round(time.Second))
	}
	return e.Reason
}

func (e *UnavailableError) Unwrap() error { return e.cause }

// StatusError carries a non-2xx HTTP status from the gateway API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway returned status %d", e.Code)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.Code, e.Body)
}
