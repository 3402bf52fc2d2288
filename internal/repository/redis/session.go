package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
)

// SessionRepository persists the signed-in identity per client session slot.
type SessionRepository struct {
	client *red.Client
	prefix string
}

func NewSessionRepository(client *red.Client, keyPrefix string) *SessionRepository {
	return &SessionRepository{client: client, prefix: keyPrefix}
}

// Get returns nil without error when the slot is signed out or unknown.
func (r *SessionRepository) Get(ctx context.Context, sid string) (*domain.Identity, error) {
	if strings.TrimSpace(sid) == "" {
		return nil, nil
	}
	raw, err := r.client.Get(ctx, r.key(sid)).Bytes()
	if errors.Is(err, red.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var identity domain.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("decode session identity: %w", err)
	}
	return &identity, nil
}

func (r *SessionRepository) Put(ctx context.Context, sid string, identity *domain.Identity, ttl time.Duration) error {
	if strings.TrimSpace(sid) == "" {
		return errors.New("session id is required")
	}
	if identity == nil {
		return r.Delete(ctx, sid)
	}

	payload, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode session identity: %w", err)
	}
	if err := r.client.Set(ctx, r.key(sid), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis put session: %w", err)
	}
	return nil
}

// Delete is idempotent.
func (r *SessionRepository) Delete(ctx context.Context, sid string) error {
	if strings.TrimSpace(sid) == "" {
		return nil
	}
	if err := r.client.Del(ctx, r.key(sid)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) key(sid string) string {
	return joinKey(r.prefix, "session", sid)
}

var _ port.SessionStore = (*SessionRepository)(nil)
