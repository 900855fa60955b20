// Package ratelimit implements fixed-window admission control keyed by
// operation class and client identity.
//
// All state lives in process memory; separate instances do not share counts.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"secret.share/internal/common"
)

// Class names an independently limited group of operations.
type Class string

const (
	ClassGeneral    Class = "general"
	ClassCreation   Class = "creation"
	ClassDisclosure Class = "disclosure"
	ClassAuth       Class = "auth"
)

// Policy bounds a class to Max operations per Window.
type Policy struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// DefaultPolicies returns the stock per-class limits.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassGeneral:    {Window: 15 * time.Minute, Max: 100},
		ClassCreation:   {Window: 60 * time.Minute, Max: 10},
		ClassDisclosure: {Window: 5 * time.Minute, Max: 20},
		ClassAuth:       {Window: 15 * time.Minute, Max: 5},
	}
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type bucketKey struct {
	class    Class
	identity string
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter owns the bucket map. The zero value is not usable; use New.
type Limiter struct {
	mu       sync.Mutex
	policies map[Class]Policy
	buckets  map[bucketKey]*bucket
	now      func() time.Time
}

func New(policies map[Class]Policy) *Limiter {
	p := make(map[Class]Policy, len(policies))
	for c, pol := range policies {
		p[c] = pol
	}
	return &Limiter{
		policies: p,
		buckets:  make(map[bucketKey]*bucket),
		now:      time.Now,
	}
}

// Check counts one operation of class for identity and reports whether it
// is admitted. A class without a policy is always admitted. A nil Limiter
// admits everything.
func (l *Limiter) Check(class Class, identity string) Result {
	if l == nil {
		return Result{Allowed: true}
	}
	pol, ok := l.policies[class]
	if !ok || pol.Max <= 0 || pol.Window <= 0 {
		return Result{Allowed: true}
	}

	key := bucketKey{class: class, identity: identity}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(pol.Window)}
		l.buckets[key] = b
		return Result{Allowed: true, Limit: pol.Max, Remaining: pol.Max - 1, ResetAt: b.resetAt}
	}

	// Once over the limit the count is pinned at Max+1 for the rest of the window.
	if b.count <= pol.Max {
		b.count++
	}
	if b.count > pol.Max {
		return Result{Allowed: false, Limit: pol.Max, Remaining: 0, ResetAt: b.resetAt}
	}
	return Result{Allowed: true, Limit: pol.Max, Remaining: pol.Max - b.count, ResetAt: b.resetAt}
}

// Allow is Check returning a *common.RateLimitError on rejection.
func (l *Limiter) Allow(class Class, identity string) error {
	res := l.Check(class, identity)
	if !res.Allowed {
		return &common.RateLimitError{ResetAt: res.ResetAt}
	}
	return nil
}

// PurgeExpired drops buckets whose window ended before now and returns how
// many were removed.
func (l *Limiter) PurgeExpired(now time.Time) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Len reports the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run purges expired buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.PurgeExpired(l.now())
		}
	}
}
