package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(0, 1, 0); err == nil {
		t.Errorf("expected error for rps 0")
	}
	if _, err := New(-1, 1, 0); err == nil {
		t.Errorf("expected error for negative rps")
	}
	if _, err := New(1, 0, 0); err == nil {
		t.Errorf("expected error for zero concurrency")
	}
}

func TestLimiter_AcquireSpacing(t *testing.T) {
	rps := 10.0 // 100ms interval
	l, err := New(rps, 4, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Stop()

	ctx := context.Background()

	// Throw away the first tick because time.NewTicker starts immediately counting
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Release()

	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Release()

	duration := time.Since(start)
	if duration < 50*time.Millisecond || duration > 200*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", duration)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l, err := New(1, 1, 0) // 1 second interval
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected context canceled error")
	}

	// The failed Acquire must not leave a slot held: a fresh Acquire with a
	// live context still goes through.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel2()
	if err := l.Acquire(ctx2); err != nil {
		t.Fatalf("slot leaked by canceled Acquire: %v", err)
	}
	l.Release()
}

func TestLimiter_FailedAcquireConsumesNoToken(t *testing.T) {
	l, err := New(10, 2, 0) // 100ms interval
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Stop()

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Release()

	// Expire while waiting for the next tick.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected deadline error")
	}

	// The next tick must still go to the next caller; had the failed
	// Acquire eaten it, this wait would stretch a full extra interval.
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Release()

	if elapsed := time.Since(start); elapsed > 260*time.Millisecond {
		t.Errorf("failed Acquire consumed a token: waited %v", elapsed)
	}
}

func TestLimiter_ConcurrencyCeiling(t *testing.T) {
	const maxConcurrency = 3
	l, err := New(1000, maxConcurrency, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Stop()

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			l.Release()
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > maxConcurrency {
		t.Errorf("concurrency ceiling breached: peak %d > %d", got, maxConcurrency)
	}
}
