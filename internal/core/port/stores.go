package port

import (
	"context"
	"time"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// PendingCodeStore keeps at most one live code per contact.
type PendingCodeStore interface {
	// Stage stores record without invalidating the contact's live record.
	Stage(ctx context.Context, record domain.PendingCode) error
	// Save stores record and invalidates any earlier record for the same contact.
	Save(ctx context.Context, record domain.PendingCode) error
	// Take atomically reads and deletes the record. Missing records yield repository.ErrNotFound.
	Take(ctx context.Context, id string) (*domain.PendingCode, error)
}

// ChallengeStore keeps single-use anti-automation challenges.
type ChallengeStore interface {
	Save(ctx context.Context, challenge domain.Challenge, ttl time.Duration) error
	Consume(ctx context.Context, token string) (*domain.Challenge, error)
}

// LinkTokenStore keeps hashed single-use tokens sent in emailed links.
type LinkTokenStore interface {
	Save(ctx context.Context, purpose, tokenHash, userID string, ttl time.Duration) error
	Consume(ctx context.Context, purpose, tokenHash string) (string, error)
}

// SessionStore persists the current identity of each client auth slot.
type SessionStore interface {
	Get(ctx context.Context, sid string) (*domain.Identity, error)
	Put(ctx context.Context, sid string, identity *domain.Identity, ttl time.Duration) error
	Delete(ctx context.Context, sid string) error
}

// RateLimitStore defines the persistence operations required to enforce sliding-window limits.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}
