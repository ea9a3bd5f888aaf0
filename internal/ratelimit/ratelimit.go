// Package ratelimit implements advisory fixed-window request admission
// control for external provider calls, keyed by (provider, caller).
//
// The limiter never blocks or waits: callers decide how to react to a denied
// check. The HTTP surface has its own Redis-backed limiter in the API
// middleware; this one guards outbound provider traffic.
package ratelimit

import (
	"sync"
	"time"
)

// Policy is the per-provider admission policy.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// Result is the outcome of a single admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

type windowKey struct {
	provider string
	caller   string
}

type window struct {
	count     int
	resetTime time.Time
}

// Limiter holds one counting window per (provider, caller) pair. Construct
// one per process and pass it by reference; there is no package-level state.
type Limiter struct {
	mu       sync.Mutex
	policies map[string]Policy
	fallback Policy
	windows  map[windowKey]*window
	now      func() time.Time
}

// DefaultPolicy applies to providers without an explicit policy.
var DefaultPolicy = Policy{Window: time.Minute, MaxRequests: 60}

// New creates a Limiter with per-provider policies. Providers absent from
// the map fall back to DefaultPolicy.
func New(policies map[string]Policy) *Limiter {
	return &Limiter{
		policies: policies,
		fallback: DefaultPolicy,
		windows:  make(map[windowKey]*window),
		now:      time.Now,
	}
}

// WithClock overrides the limiter's time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check records one request against the (provider, caller) window and reports
// whether it was admitted. The check is advisory: the request is counted
// either way so that a caller ignoring denials still burns its budget.
func (l *Limiter) Check(provider, caller string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	policy, ok := l.policies[provider]
	if !ok {
		policy = l.fallback
	}

	now := l.now()
	key := windowKey{provider: provider, caller: caller}

	w, ok := l.windows[key]
	if !ok || now.After(w.resetTime) {
		w = &window{count: 0, resetTime: now.Add(policy.Window)}
		l.windows[key] = w
	}

	w.count++

	remaining := policy.MaxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   w.count <= policy.MaxRequests,
		Remaining: remaining,
		ResetTime: w.resetTime,
	}
}
