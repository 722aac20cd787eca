package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/aioscope/aioscope/internal/metrics"
	"github.com/aioscope/aioscope/internal/source"
)

// RetryPolicy bounds re-dispatch of transient failures with exponential
// backoff. Permanent failures and context errors are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.0 to 1.0, fraction of the delay

	// sleep is swappable so tests can run without wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	return p
}

// do runs fn up to MaxAttempts times. Only transient errors are retried; a
// provider Retry-After hint overrides the computed backoff when longer.
func (p RetryPolicy) do(ctx context.Context, sourceName string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		if !source.IsTransient(err) || attempt >= p.MaxAttempts {
			return err
		}

		delay := p.backoff(attempt)
		var te *source.TransientError
		if errors.As(err, &te) && te.RetryAfter > delay {
			delay = te.RetryAfter
		}

		metrics.RetriesTotal.WithLabelValues(sourceName).Inc()
		if serr := p.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter * ((rand.Float64() * 2) - 1)
		delay += time.Duration(spread)
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
