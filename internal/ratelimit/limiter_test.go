package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalFixedWindowLimiterDeniesFourthAttempt(t *testing.T) {
	limiter := NewLocalFixedWindowLimiter()
	base := time.Now()
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Consume(ctx, "login:alice@example.com", 3, time.Second)
		if err != nil {
			t.Fatalf("Consume %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d denied, want allowed", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Errorf("attempt %d remaining = %d, want %d", i+1, d.Remaining, 3-(i+1))
		}
	}

	d, err := limiter.Consume(ctx, "login:alice@example.com", 3, time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth attempt allowed, want denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", d.RetryAfter)
	}
}

func TestLocalFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	limiter := NewLocalFixedWindowLimiter()
	base := time.Now()
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Consume(ctx, "k", 3, time.Second); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	if d, _ := limiter.Consume(ctx, "k", 3, time.Second); d.Allowed {
		t.Fatal("expected window to be exhausted")
	}

	limiter.now = func() time.Time { return base.Add(time.Second + time.Millisecond) }
	d, err := limiter.Consume(ctx, "k", 3, time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected fresh window after expiry")
	}
	if d.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2 in fresh window", d.Remaining)
	}
}

func TestLocalFixedWindowLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLocalFixedWindowLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := limiter.Consume(ctx, "reset:a@example.com", 3, time.Minute); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	if d, _ := limiter.Consume(ctx, "reset:a@example.com", 3, time.Minute); d.Allowed {
		t.Fatal("expected key a to be exhausted")
	}

	d, err := limiter.Consume(ctx, "reset:b@example.com", 3, time.Minute)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if !d.Allowed {
		t.Fatal("independent key denied by another key's window")
	}
}
