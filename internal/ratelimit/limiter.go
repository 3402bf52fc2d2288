// Package ratelimit evaluates sliding-window limits against a port.RateLimitStore.
// The HTTP middleware and the identity provider share it.
package ratelimit

import (
	"context"
	"time"

	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
)

// Rule is a limit of Limit attempts per Window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Enabled reports whether the rule would ever block.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter records attempts and decides whether a new attempt is allowed.
type Limiter struct {
	store port.RateLimitStore
	now   func() time.Time
}

func New(store port.RateLimitStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Now returns the limiter's clock reading.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Allow evaluates rule for identifier and, when allowed, records the attempt.
// A blocked attempt is not recorded.
func (l *Limiter) Allow(ctx context.Context, rule Rule, identifier string) (Decision, error) {
	if l == nil || l.store == nil || !rule.Enabled() {
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}, nil
	}
	now := l.now()

	key := rule.Name + ":" + identifier

	if err := l.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return Decision{}, err
	}
	count, err := l.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return Decision{}, err
	}
	oldest, hasAttempts, err := l.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Allowed: true, Limit: rule.Limit, Reset: now.Add(rule.Window)}
	if hasAttempts {
		d.Reset = oldest.Add(rule.Window)
	}

	if count >= rule.Limit {
		d.Allowed = false
		d.RetryAfter = nonNegative(d.Reset.Sub(now))
		return d, nil
	}

	if err := l.store.RecordAttempt(ctx, key, now); err != nil {
		return Decision{}, err
	}

	d.Remaining = rule.Limit - count - 1
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.RetryAfter = nonNegative(d.Reset.Sub(now))
	return d, nil
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
