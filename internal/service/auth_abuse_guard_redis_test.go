package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisGuard(t *testing.T, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAuthAbuseGuard(client, "test_abuse", policy)
}

func TestRedisAuthAbuseGuardExponentialCooldown(t *testing.T) {
	guard := newRedisGuard(t, AuthAbusePolicy{
		FreeAttempts: 0,
		BaseDelay:    10 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
		ResetWindow:  time.Minute,
	})
	ctx := context.Background()

	if retry, err := guard.Check(ctx, AuthAbuseScopeLogin, "a@example.com", "10.0.0.1"); err != nil || retry != 0 {
		t.Fatalf("expected no cooldown initially, got retry=%v err=%v", retry, err)
	}
	r1, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "a@example.com", "10.0.0.1")
	if err != nil {
		t.Fatalf("register failure #1: %v", err)
	}
	r2, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "a@example.com", "10.0.0.1")
	if err != nil {
		t.Fatalf("register failure #2: %v", err)
	}
	if r2 <= r1 {
		t.Fatalf("expected increasing cooldown, got r1=%v r2=%v", r1, r2)
	}
}

func TestRedisAuthAbuseGuardFreeAttempts(t *testing.T) {
	guard := newRedisGuard(t, AuthAbusePolicy{
		FreeAttempts: 2,
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		ResetWindow:  time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		retry, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "b@example.com", "10.0.0.2")
		if err != nil {
			t.Fatalf("register failure #%d: %v", i+1, err)
		}
		if retry != 0 {
			t.Fatalf("failure #%d should be free, got cooldown %v", i+1, retry)
		}
	}
	retry, err := guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "b@example.com", "10.0.0.2")
	if err != nil {
		t.Fatalf("register failure #3: %v", err)
	}
	if retry <= 0 {
		t.Fatal("expected cooldown after free attempts are spent")
	}
}

func TestRedisAuthAbuseGuardResetClearsCooldown(t *testing.T) {
	guard := newRedisGuard(t, AuthAbusePolicy{
		FreeAttempts: 0,
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		ResetWindow:  time.Minute,
	})
	ctx := context.Background()
	_, _ = guard.RegisterFailure(ctx, AuthAbuseScopeLogin, "c@example.com", "10.0.0.3")
	if retry, _ := guard.Check(ctx, AuthAbuseScopeLogin, "c@example.com", "10.0.0.3"); retry <= 0 {
		t.Fatal("expected active cooldown before reset")
	}
	if err := guard.Reset(ctx, AuthAbuseScopeLogin, "c@example.com", "10.0.0.3"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if retry, _ := guard.Check(ctx, AuthAbuseScopeLogin, "c@example.com", "10.0.0.3"); retry != 0 {
		t.Fatalf("expected cooldown to be cleared, got %v", retry)
	}
}
