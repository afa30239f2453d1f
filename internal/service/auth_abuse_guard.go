package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// AuthAbuseScope separates the flows that carry their own cooldown state.
type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeForgot AuthAbuseScope = "forgot"
)

// AuthAbusePolicy shapes the exponential backoff: after FreeAttempts
// failures inside ResetWindow, each further failure doubles (Multiplier)
// the cooldown starting from BaseDelay, capped at MaxDelay.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

// AuthAbuseGuard tracks failed attempts per identity and per source ip and
// answers how long a caller still has to wait.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type NoopAuthAbuseGuard struct{}

func NewNoopAuthAbuseGuard() *NoopAuthAbuseGuard {
	return &NoopAuthAbuseGuard{}
}

func (g *NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error {
	return nil
}

// abuseBucket is the mutable per-key state. A bucket whose last failure is
// older than the reset window counts as empty.
type abuseBucket struct {
	failures  int
	lastFail  time.Time
	holdUntil time.Time
}

// InMemoryAuthAbuseGuard is the single-instance guard. Buckets are pruned
// lazily on read rather than by a background sweeper.
type InMemoryAuthAbuseGuard struct {
	mu      sync.Mutex
	policy  AuthAbusePolicy
	buckets map[string]abuseBucket
}

func NewInMemoryAuthAbuseGuard(policy AuthAbusePolicy) *InMemoryAuthAbuseGuard {
	return &InMemoryAuthAbuseGuard{
		policy:  normalizeAuthAbusePolicy(policy),
		buckets: make(map[string]abuseBucket),
	}
}

func (g *InMemoryAuthAbuseGuard) Check(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()

	idWait := g.remainingLocked(now, abuseBucketKey(scope, "id", normalizeAuthIdentity(identity)))
	ipWait := g.remainingLocked(now, abuseBucketKey(scope, "ip", normalizeAuthIP(ip)))
	return max(idWait, ipWait), nil
}

func (g *InMemoryAuthAbuseGuard) RegisterFailure(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	now := time.Now().UTC()
	g.mu.Lock()
	defer g.mu.Unlock()

	idWait := g.recordLocked(now, abuseBucketKey(scope, "id", normalizeAuthIdentity(identity)))
	ipWait := g.recordLocked(now, abuseBucketKey(scope, "ip", normalizeAuthIP(ip)))
	return max(idWait, ipWait), nil
}

func (g *InMemoryAuthAbuseGuard) Reset(_ context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.buckets, abuseBucketKey(scope, "id", normalizeAuthIdentity(identity)))
	delete(g.buckets, abuseBucketKey(scope, "ip", normalizeAuthIP(ip)))
	return nil
}

func (g *InMemoryAuthAbuseGuard) recordLocked(now time.Time, key string) time.Duration {
	b := g.buckets[key]
	if b.lastFail.IsZero() || now.Sub(b.lastFail) > g.policy.ResetWindow {
		b.failures = 0
	}
	b.failures++
	b.lastFail = now
	wait := g.backoffFor(b.failures)
	b.holdUntil = now.Add(wait)
	g.buckets[key] = b
	return wait
}

func (g *InMemoryAuthAbuseGuard) remainingLocked(now time.Time, key string) time.Duration {
	b, ok := g.buckets[key]
	if !ok {
		return 0
	}
	if now.Sub(b.lastFail) > g.policy.ResetWindow {
		delete(g.buckets, key)
		return 0
	}
	if now.After(b.holdUntil) {
		return 0
	}
	return b.holdUntil.Sub(now)
}

func (g *InMemoryAuthAbuseGuard) backoffFor(failures int) time.Duration {
	if failures <= g.policy.FreeAttempts {
		return 0
	}
	power := math.Pow(g.policy.Multiplier, float64(failures-g.policy.FreeAttempts-1))
	wait := time.Duration(float64(g.policy.BaseDelay) * power)
	if wait > g.policy.MaxDelay {
		return g.policy.MaxDelay
	}
	return wait
}

func abuseBucketKey(scope AuthAbuseScope, dim, value string) string {
	return fmt.Sprintf("%s:%s:%s", scope, dim, value)
}

func normalizeAuthIdentity(identity string) string {
	v := strings.TrimSpace(strings.ToLower(identity))
	if v == "" {
		return "anonymous"
	}
	return v
}

func normalizeAuthIP(ip string) string {
	v := strings.TrimSpace(strings.ToLower(ip))
	if v == "" {
		return "unknown"
	}
	return v
}

func normalizeAuthAbusePolicy(policy AuthAbusePolicy) AuthAbusePolicy {
	if policy.FreeAttempts < 0 {
		policy.FreeAttempts = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = 5 * time.Minute
	}
	if policy.ResetWindow <= 0 {
		policy.ResetWindow = 30 * time.Minute
	}
	return policy
}
