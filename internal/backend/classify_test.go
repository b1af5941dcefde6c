package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   fault.Kind
	}{
		{http.StatusRequestTimeout, fault.KindTimeout},
		{http.StatusGatewayTimeout, fault.KindTimeout},
		{http.StatusTooManyRequests, fault.KindRateLimited},
		{http.StatusInternalServerError, fault.KindUnavailable},
		{http.StatusServiceUnavailable, fault.KindUnavailable},
		{http.StatusBadRequest, fault.KindRejected},
		{http.StatusUnauthorized, fault.KindRejected},
		{http.StatusNotFound, fault.KindRejected},
		{http.StatusMultipleChoices, fault.KindMalformedResponse},
	}
	for _, tc := range cases {
		got := ClassifyStatus(tc.status, "")
		if got.Kind != tc.want {
			t.Fatalf("status %d classified %s, want %s", tc.status, got.Kind, tc.want)
		}
	}
}

func TestClassifyStatusCarriesRetryAfter(t *testing.T) {
	err := ClassifyStatus(http.StatusTooManyRequests, "2")
	if err.RetryAfter != 2*time.Second {
		t.Fatalf("RetryAfter = %v, want 2s", err.RetryAfter)
	}
}

func TestClassifyTransport(t *testing.T) {
	if got := ClassifyTransport(context.Canceled); got.Kind != fault.KindCancelled {
		t.Fatalf("canceled classified %s", got.Kind)
	}
	if got := ClassifyTransport(context.DeadlineExceeded); got.Kind != fault.KindTimeout {
		t.Fatalf("deadline classified %s", got.Kind)
	}
	if got := ClassifyTransport(&net.DNSError{IsTimeout: true}); got.Kind != fault.KindTimeout {
		t.Fatalf("net timeout classified %s", got.Kind)
	}
	if got := ClassifyTransport(errors.New("connection refused")); got.Kind != fault.KindUnavailable {
		t.Fatalf("plain transport error classified %s", got.Kind)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("seconds form = %v, want 3s", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Fatalf("empty = %v, want 0", got)
	}
	if got := ParseRetryAfter("soon"); got != 0 {
		t.Fatalf("garbage = %v, want 0", got)
	}
	future := time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > 5*time.Second {
		t.Fatalf("http date = %v, want within (0, 5s]", got)
	}
	past := time.Now().Add(-5 * time.Second).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(past); got != 0 {
		t.Fatalf("past date = %v, want 0", got)
	}
}
