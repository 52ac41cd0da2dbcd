package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestZeroRateIsUnbounded(t *testing.T) {
	l := New(0, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error from unbounded limiter: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("expected unbounded limiter to admit instantly, took %v", elapsed)
	}
}

func TestPositiveRatePacesAdmission(t *testing.T) {
	l := New(50, 1) // 50/s, burst 1: second admission waits ~20ms
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("expected second Wait to be paced by the token bucket, took %v", elapsed)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := New(1, 1)
	_ = l.Wait(context.Background()) // drain the single burst token

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatalf("expected Wait to return an error once context deadline is exceeded")
	}
}

func TestGoroutineLimiterBoundsConcurrency(t *testing.T) {
	gl := NewGoroutineLimiter(2)
	if !gl.Acquire() || !gl.Acquire() {
		t.Fatalf("expected first two acquires to succeed")
	}
	if gl.Acquire() {
		t.Fatalf("expected third acquire to fail at capacity 2")
	}
	if gl.Current() != 2 {
		t.Fatalf("expected Current()=2, got %d", gl.Current())
	}
	gl.Release()
	if !gl.Acquire() {
		t.Fatalf("expected acquire to succeed after a release")
	}
}
