package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

// ClassifyStatus maps a non-success HTTP status from a backend into the fault
// taxonomy. retryAfter is the raw Retry-After header value, if present.
func ClassifyStatus(status int, retryAfter string) *fault.Error {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fault.Errorf(fault.KindTimeout, "backend returned status %d", status)
	case status == http.StatusTooManyRequests:
		e := fault.Errorf(fault.KindRateLimited, "backend returned status %d", status)
		e.RetryAfter = ParseRetryAfter(retryAfter)
		return e
	case status >= 500:
		return fault.Errorf(fault.KindUnavailable, "backend returned status %d", status)
	case status >= 400:
		return fault.Errorf(fault.KindRejected, "backend rejected request with status %d", status)
	default:
		return fault.Errorf(fault.KindMalformedResponse, "backend returned unexpected status %d", status)
	}
}

// ClassifyTransport maps an error from the HTTP round trip itself. Timeouts
// are transient, cancellation propagates as cancellation, and everything else
// (refused connections, DNS, truncated bodies) counts as unavailable.
func ClassifyTransport(err error) *fault.Error {
	if errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindCancelled, err, "backend call cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTimeout, err, "backend call timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.Wrap(fault.KindTimeout, err, "backend call timed out")
	}
	return fault.Wrap(fault.KindUnavailable, err, "backend unreachable")
}

// ParseRetryAfter reads a Retry-After value as delta seconds or an HTTP date.
// Unparseable values yield no hint.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
