// Package fault carries the classified error model shared by the session
// layer, the backend adapters, and the gateway. Every failure that crosses a
// component boundary is tagged with a Kind so callers can decide on retry,
// backpressure, or client-facing status without string matching.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure. The zero value is not a valid kind.
type Kind string

const (
	// KindValidation marks input the service refused before doing any work.
	KindValidation Kind = "validation"
	// KindUnauthorized marks a missing or wrong API key.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound marks a reference to a session that does not exist.
	KindNotFound Kind = "not_found"
	// KindSessionBusy marks a turn rejected because the session already has
	// one in flight.
	KindSessionBusy Kind = "session_busy"
	// KindTimeout marks a deadline expiry, local or upstream.
	KindTimeout Kind = "timeout"
	// KindRateLimited marks upstream throttling, optionally with a hint.
	KindRateLimited Kind = "rate_limited"
	// KindUnavailable marks a transient upstream or transport failure.
	KindUnavailable Kind = "unavailable"
	// KindRejected marks a definitive upstream refusal of the request.
	KindRejected Kind = "rejected"
	// KindMalformedResponse marks an upstream reply that could not be decoded.
	KindMalformedResponse Kind = "malformed_response"
	// KindOutOfOrder marks an audio frame that violated sequence ordering.
	KindOutOfOrder Kind = "out_of_order"
	// KindCancelled marks work abandoned by the caller.
	KindCancelled Kind = "cancelled"
	// KindInternal marks everything the service cannot explain.
	KindInternal Kind = "internal"
)

// Error is a failure tagged with a Kind. RetryAfter is a backoff hint and is
// only meaningful for KindRateLimited.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	cause      error
}

// New builds an Error with a fixed message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf builds an Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind, keeping it reachable through
// errors.Unwrap.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether a fresh attempt could plausibly succeed.
// Rejections and malformed replies are terminal: the same request would fail
// the same way.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from err. Context sentinel errors are folded into
// the taxonomy so callers never have to special-case them; anything else is
// KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// Retryable reports whether err is worth another attempt under the same
// request. Non-classified errors are not retried.
func Retryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryAfter returns the upstream backoff hint attached to err, if any.
func RetryAfter(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// HTTPStatus maps a failure to the status code the gateway reports. The
// mapping is the single place where kinds become wire statuses.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindRejected, KindOutOfOrder:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindSessionBusy, KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable, KindMalformedResponse:
		return http.StatusBadGateway
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
