// Package ratelimit throttles outbound calls to a requests-per-second
// ceiling with bounded in-flight concurrency.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter combines a time-based token refill (ticker at 1/rps) with a
// weighted semaphore bounding concurrent holders. It is safe for concurrent
// use by multiple goroutines.
type Limiter struct {
	ticker   *time.Ticker
	ch       <-chan time.Time
	interval time.Duration
	jitter   float64 // 0.0 to 1.0
	slots    *semaphore.Weighted
}

// New creates a limiter admitting rps requests per second with at most
// maxConcurrency holders between Acquire and Release. Jitter spreads tick
// wakeups by up to +/- jitter*interval and must be in [0, 1].
func New(rps float64, maxConcurrency int64, jitter float64) (*Limiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("ratelimit: rps must be > 0, got %v", rps)
	}
	if maxConcurrency < 1 {
		return nil, fmt.Errorf("ratelimit: max concurrency must be >= 1, got %d", maxConcurrency)
	}
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}

	interval := time.Duration(float64(time.Second) / rps)
	ticker := time.NewTicker(interval)

	return &Limiter{
		ticker:   ticker,
		ch:       ticker.C,
		interval: interval,
		jitter:   jitter,
		slots:    semaphore.NewWeighted(maxConcurrency),
	}, nil
}

// Acquire blocks until a concurrency slot is free and the next rate token
// fires, or until ctx is done. On a ctx error no token is consumed and no
// slot is held; callers must not Release after a failed Acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	// Jitter waits before the token, so a context expiring anywhere in
	// Acquire has consumed nothing. Random spread in [-j, +j]*interval;
	// negative just skips the wait since the ticker already enforces the
	// minimum spacing.
	if l.jitter > 0 {
		factor := (rand.Float64() * 2) - 1.0
		extra := time.Duration(float64(l.interval) * l.jitter * factor)
		if extra > 0 {
			select {
			case <-time.After(extra):
			case <-ctx.Done():
				l.slots.Release(1)
				return ctx.Err()
			}
		}
	}

	select {
	case <-ctx.Done():
		l.slots.Release(1)
		return ctx.Err()
	case <-l.ch:
	}

	return nil
}

// Release returns a concurrency slot. Token refill is time-based and
// independent of release.
func (l *Limiter) Release() {
	l.slots.Release(1)
}

// Stop releases the limiter's timer resources. Pending Acquire calls would
// block on the dead ticker channel, so stop only after all workers exit.
func (l *Limiter) Stop() {
	l.ticker.Stop()
}
