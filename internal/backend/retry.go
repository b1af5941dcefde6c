// Package backend carries the shared machinery for calling external model
// services: a bounded retry executor and the classification of HTTP and
// transport failures into fault kinds. The adapters in llm, stt, and tts all
// run their calls through Do so retry behavior stays uniform.
package backend

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/icheftech/fredrick-ai/internal/config"
	"github.com/icheftech/fredrick-ai/internal/fault"
)

// Policy bounds one call sequence. MaxAttempts caps tries, Budget caps the
// wall-clock of the whole sequence including backoff waits.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Budget         time.Duration
}

// PolicyFromConfig converts the config representation.
func PolicyFromConfig(rc config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: time.Duration(rc.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoffMS) * time.Millisecond,
		Budget:         time.Duration(rc.BudgetMS) * time.Millisecond,
	}
}

var (
	retryMetricOnce sync.Once
	retryCounter    metric.Int64Counter
)

func retryMetric() metric.Int64Counter {
	retryMetricOnce.Do(func() {
		meter := otel.Meter("github.com/icheftech/fredrick-ai/backend")
		counter, err := meter.Int64Counter("fredrick.backend.retries",
			metric.WithDescription("Retries issued against backend services"))
		if err == nil {
			retryCounter = counter
		}
	})
	return retryCounter
}

// Do runs fn until it succeeds, fails terminally, or the policy is exhausted.
// Only transient kinds (timeout, rate_limited, unavailable) are retried;
// rejections and malformed replies surface immediately because a retry would
// reproduce them. The whole sequence, waits included, runs under the budget
// deadline derived from ctx.
func Do(ctx context.Context, log *slog.Logger, p Policy, op string, fn func(ctx context.Context) error) error {
	budgetCtx, cancel := context.WithTimeout(ctx, p.Budget)
	defer cancel()

	deadline, _ := budgetCtx.Deadline()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(budgetCtx)
		if err == nil {
			return nil
		}
		if !fault.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			return err
		}

		delay := backoffDelay(p, attempt)
		if hint := fault.RetryAfter(err); hint > delay {
			delay = hint
		}
		// Waiting past the budget cannot help; fail with the last cause now.
		if time.Until(deadline) < delay {
			return err
		}

		log.Warn("backend call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if c := retryMetric(); c != nil {
			c.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		}

		select {
		case <-budgetCtx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return err
}

// backoffDelay doubles the initial delay per attempt, caps it, and spreads
// concurrent retries with up to 10% jitter.
func backoffDelay(p Policy, attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if max := float64(p.MaxBackoff); d > max {
		d = max
	}
	jitter := d * 0.1 * rand.Float64()
	return time.Duration(d + jitter)
}
