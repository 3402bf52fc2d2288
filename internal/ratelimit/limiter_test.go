package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	count       int
	oldest      time.Time
	hasOldest   bool
	countErr    error
	recordCalls int
	recordedKey string
}

func (f *fakeStore) TrimWindow(context.Context, string, time.Duration, time.Time) error { return nil }

func (f *fakeStore) CountAttempts(context.Context, string, time.Duration, time.Time) (int, error) {
	return f.count, f.countErr
}

func (f *fakeStore) RecordAttempt(_ context.Context, identifier string, _ time.Time) error {
	f.recordCalls++
	f.recordedKey = identifier
	return nil
}

func (f *fakeStore) OldestAttempt(context.Context, string, time.Duration, time.Time) (time.Time, bool, error) {
	return f.oldest, f.hasOldest, nil
}

func TestLimiterAllowsAndRecords(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{count: 2, oldest: now.Add(-30 * time.Second), hasOldest: true}
	limiter := New(store).WithClock(func() time.Time { return now })

	d, err := limiter.Allow(context.Background(), Rule{Name: "phone_send", Limit: 5, Window: time.Minute}, "+15551234567")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if !d.Reset.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("unexpected reset %v", d.Reset)
	}
	if store.recordCalls != 1 || store.recordedKey != "phone_send:+15551234567" {
		t.Fatalf("expected one recorded attempt under the rule key, got %d %q", store.recordCalls, store.recordedKey)
	}
}

func TestLimiterBlocksWithoutRecording(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{count: 5, oldest: now.Add(-15 * time.Second), hasOldest: true}
	limiter := New(store).WithClock(func() time.Time { return now })

	d, err := limiter.Allow(context.Background(), Rule{Name: "sign_in", Limit: 5, Window: time.Minute}, "flat@example.com")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if d.Allowed || d.RetryAfter != 45*time.Second {
		t.Fatalf("unexpected decision %+v", d)
	}
	if store.recordCalls != 0 {
		t.Fatal("blocked attempts must not be recorded")
	}
}

func TestLimiterDisabledRuleAndStoreErrors(t *testing.T) {
	limiter := New(&fakeStore{countErr: errors.New("redis down")})

	if d, err := limiter.Allow(context.Background(), Rule{Name: "off"}, "x"); err != nil || !d.Allowed {
		t.Fatalf("disabled rule should allow, got %+v %v", d, err)
	}
	if _, err := limiter.Allow(context.Background(), Rule{Name: "on", Limit: 1, Window: time.Minute}, "x"); err == nil {
		t.Fatal("expected store error to propagate")
	}

	var nilLimiter *Limiter
	if d, err := nilLimiter.Allow(context.Background(), Rule{Name: "on", Limit: 1, Window: time.Minute}, "x"); err != nil || !d.Allowed {
		t.Fatalf("nil limiter should allow, got %+v %v", d, err)
	}
}
