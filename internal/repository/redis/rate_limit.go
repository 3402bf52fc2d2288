package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	red "github.com/redis/go-redis/v9"

	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
)

// RateLimitRepository keeps sliding-window attempts in sorted sets scored by unix nanoseconds.
type RateLimitRepository struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

// NewRateLimitRepository builds the store. ttl bounds how long an idle window key survives.
func NewRateLimitRepository(client *red.Client, keyPrefix string, ttl time.Duration) *RateLimitRepository {
	return &RateLimitRepository{client: client, prefix: keyPrefix, ttl: ttl}
}

// RecordAttempt adds one attempt at the given time.
func (r *RateLimitRepository) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := r.key(identifier)
	// Members must be unique or concurrent attempts in the same nanosecond collapse.
	member := formatUnixNano(at) + "-" + uuid.NewString()

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, red.Z{Score: float64(at.UnixNano()), Member: member})
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}
	min, max := scoreRange(window, reference)

	count, err := r.client.ZCount(ctx, r.key(identifier), min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}
	return int(count), nil
}

// TrimWindow removes attempts older than the window relative to reference.
func (r *RateLimitRepository) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}
	threshold := "(" + strconv.FormatInt(reference.Add(-window).UnixNano(), 10)

	if err := r.client.ZRemRangeByScore(ctx, r.key(identifier), "-inf", threshold).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyscore: %w", err)
	}
	return nil
}

// OldestAttempt returns the earliest attempt still inside the window.
func (r *RateLimitRepository) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}
	min, max := scoreRange(window, reference)

	values, err := r.client.ZRangeByScore(ctx, r.key(identifier), &red.ZRangeBy{Min: min, Max: max, Count: 1}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(values) == 0 {
		return time.Time{}, false, nil
	}

	raw, _, _ := strings.Cut(values[0], "-")
	ts, err := parseUnixNano(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse attempt timestamp: %w", err)
	}
	return ts, true, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	return joinKey(r.prefix, "ratelimit", identifier)
}

func scoreRange(window time.Duration, reference time.Time) (string, string) {
	return strconv.FormatInt(reference.Add(-window).UnixNano(), 10), strconv.FormatInt(reference.UnixNano(), 10)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
