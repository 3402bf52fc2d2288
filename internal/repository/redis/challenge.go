package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

const (
	fieldAnchor   = "anchor"
	fieldIssuedAt = "issued_at"
)

// ChallengeRepository keeps anti-automation challenges until they are consumed or expire.
type ChallengeRepository struct {
	client *red.Client
	prefix string
}

func NewChallengeRepository(client *red.Client, keyPrefix string) *ChallengeRepository {
	return &ChallengeRepository{client: client, prefix: keyPrefix}
}

func (r *ChallengeRepository) Save(ctx context.Context, challenge domain.Challenge, ttl time.Duration) error {
	switch {
	case strings.TrimSpace(challenge.Token) == "":
		return errors.New("challenge token is required")
	case strings.TrimSpace(challenge.Anchor) == "":
		return errors.New("challenge anchor is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	key := r.key(challenge.Token)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fieldAnchor, challenge.Anchor, fieldIssuedAt, formatUnixNano(challenge.IssuedAt))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store challenge: %w", err)
	}
	return nil
}

// Consume returns the challenge and deletes it. A second call yields repository.ErrNotFound.
func (r *ChallengeRepository) Consume(ctx context.Context, token string) (*domain.Challenge, error) {
	if strings.TrimSpace(token) == "" {
		return nil, repository.ErrNotFound
	}
	key := r.key(token)

	pipe := r.client.TxPipeline()
	get := pipe.HGetAll(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis consume challenge: %w", err)
	}

	values := get.Val()
	if values[fieldAnchor] == "" {
		return nil, repository.ErrNotFound
	}
	issuedAt, err := parseUnixNano(values[fieldIssuedAt])
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}

	return &domain.Challenge{Token: token, Anchor: values[fieldAnchor], IssuedAt: issuedAt}, nil
}

func (r *ChallengeRepository) key(token string) string {
	return joinKey(r.prefix, "challenge", token)
}

var _ port.ChallengeStore = (*ChallengeRepository)(nil)
