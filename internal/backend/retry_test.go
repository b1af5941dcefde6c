package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/icheftech/fredrick-ai/internal/fault"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Budget:         time.Second,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), newLogger(), fastPolicy(), "generate", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), newLogger(), fastPolicy(), "generate", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fault.New(fault.KindUnavailable, "backend down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoNeverRetriesRejected(t *testing.T) {
	for _, kind := range []fault.Kind{fault.KindRejected, fault.KindMalformedResponse, fault.KindCancelled} {
		calls := 0
		err := Do(context.Background(), newLogger(), fastPolicy(), "generate", func(ctx context.Context) error {
			calls++
			return fault.New(kind, "terminal")
		})
		if calls != 1 {
			t.Fatalf("kind %s: expected exactly 1 call, got %d", kind, calls)
		}
		if fault.KindOf(err) != kind {
			t.Fatalf("kind %s: error kind lost, got %v", kind, err)
		}
	}
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), newLogger(), fastPolicy(), "transcribe", func(ctx context.Context) error {
		calls++
		return fault.New(fault.KindUnavailable, "still down")
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if fault.KindOf(err) != fault.KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestDoFailsFastWhenDelayExceedsBudget(t *testing.T) {
	p := Policy{
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		Budget:         50 * time.Millisecond,
	}
	calls := 0
	start := time.Now()
	err := Do(context.Background(), newLogger(), p, "generate", func(ctx context.Context) error {
		calls++
		return fault.New(fault.KindUnavailable, "down")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call before budget cut-off, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("should not have waited out the backoff, took %v", elapsed)
	}
	if fault.KindOf(err) != fault.KindUnavailable {
		t.Fatalf("expected the last cause, got %v", err)
	}
}

func TestDoHonorsRetryAfterHint(t *testing.T) {
	p := Policy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Budget:         time.Second,
	}
	calls := 0
	start := time.Now()
	err := Do(context.Background(), newLogger(), p, "generate", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &fault.Error{Kind: fault.KindRateLimited, Message: "throttled", RetryAfter: 60 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("retry-after hint ignored, waited only %v", elapsed)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	d1 := backoffDelay(p, 1)
	if d1 < 100*time.Millisecond || d1 > 110*time.Millisecond {
		t.Fatalf("attempt 1 delay %v outside [100ms, 110ms]", d1)
	}
	d2 := backoffDelay(p, 2)
	if d2 < 200*time.Millisecond || d2 > 220*time.Millisecond {
		t.Fatalf("attempt 2 delay %v outside [200ms, 220ms]", d2)
	}
	d3 := backoffDelay(p, 3)
	if d3 < 300*time.Millisecond || d3 > 330*time.Millisecond {
		t.Fatalf("attempt 3 delay %v should hit the cap band", d3)
	}
}
