package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/distcache/cachepool/lib/errors"
)

func TestNew_Unlimited(t *testing.T) {
	l := New(0, 10)
	if l != nil {
		t.Fatal("zero rate should return a nil limiter")
	}
	for range 100 {
		if !l.Allow() {
			t.Fatal("nil limiter should always allow")
		}
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait should not fail: %v", err)
	}
}

func TestLimiter_Burst(t *testing.T) {
	l := New(1, 3)

	for i := range 3 {
		if !l.Allow() {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow() {
		t.Error("request beyond burst should be rejected")
	}
}

func TestLimiter_WaitExceedsDeadline(t *testing.T) {
	l := New(0.1, 1)
	if !l.Allow() {
		t.Fatal("first request should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiter_WaitRefills(t *testing.T) {
	l := New(100, 1)
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Wait took too long for a 100/s limiter")
	}
}

func TestLimiter_WaitCanceled(t *testing.T) {
	l := New(0.1, 1)
	l.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
