package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single Consume call. RetryAfter is only
// meaningful when Allowed is false; it reports how long until the current
// window expires.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts attempts per key over a fixed window. The first attempt
// opens the window; once max attempts land inside it, further attempts are
// denied until the window expires. Keys are independent of each other.
type Limiter interface {
	Consume(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

type fixedWindow struct {
	count       int
	windowStart time.Time
}

type LocalFixedWindowLimiter struct {
	mu      sync.Mutex
	store   map[string]*fixedWindow
	cleanup time.Time
	now     func() time.Time
}

func NewLocalFixedWindowLimiter() *LocalFixedWindowLimiter {
	return &LocalFixedWindowLimiter{
		store:   make(map[string]*fixedWindow),
		cleanup: time.Now().Add(time.Minute),
		now:     time.Now,
	}
}

func (l *LocalFixedWindowLimiter) Consume(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, v := range l.store {
			if now.Sub(v.windowStart) > 2*window {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(window)
	}

	entry, ok := l.store[key]
	if !ok || now.Sub(entry.windowStart) >= window {
		l.store[key] = &fixedWindow{count: 1, windowStart: now}
		return Decision{Allowed: true, Remaining: max - 1}, nil
	}
	if entry.count >= max {
		retryAfter := window - now.Sub(entry.windowStart)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	entry.count++
	return Decision{Allowed: true, Remaining: max - entry.count}, nil
}
