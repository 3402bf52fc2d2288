package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

// LinkTokenRepository stores hashed email-link tokens (verification, password reset).
type LinkTokenRepository struct {
	client *red.Client
	prefix string
}

func NewLinkTokenRepository(client *red.Client, keyPrefix string) *LinkTokenRepository {
	return &LinkTokenRepository{client: client, prefix: keyPrefix}
}

func (r *LinkTokenRepository) Save(ctx context.Context, purpose, tokenHash, userID string, ttl time.Duration) error {
	switch {
	case strings.TrimSpace(purpose) == "":
		return errors.New("purpose is required")
	case tokenHash == "":
		return errors.New("token hash is required")
	case strings.TrimSpace(userID) == "":
		return errors.New("user id is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	if err := r.client.Set(ctx, r.key(purpose, tokenHash), userID, ttl).Err(); err != nil {
		return fmt.Errorf("redis store link token: %w", err)
	}
	return nil
}

// Consume returns the user id the token was issued to and deletes the token.
func (r *LinkTokenRepository) Consume(ctx context.Context, purpose, tokenHash string) (string, error) {
	userID, err := r.client.GetDel(ctx, r.key(purpose, tokenHash)).Result()
	if errors.Is(err, red.Nil) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis consume link token: %w", err)
	}
	return userID, nil
}

func (r *LinkTokenRepository) key(purpose, tokenHash string) string {
	return joinKey(r.prefix, "link", purpose, tokenHash)
}

var _ port.LinkTokenStore = (*LinkTokenRepository)(nil)
