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
	fieldContact   = "contact"
	fieldCodeHash  = "code_hash"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"

	maxWatchRetries = 3
)

// PendingCodeRepository stores dispatched verification codes as hashes keyed by handle id,
// plus a per-contact pointer to the single live handle.
type PendingCodeRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

func NewPendingCodeRepository(client *red.Client, keyPrefix string) *PendingCodeRepository {
	return &PendingCodeRepository{client: client, prefix: keyPrefix, now: time.Now}
}

// WithClock overrides the internal clock, used in tests.
func (r *PendingCodeRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Stage writes record without touching the live pointer, so an earlier handle
// for the same contact keeps working until Save promotes this one.
func (r *PendingCodeRepository) Stage(ctx context.Context, record domain.PendingCode) error {
	ttl, err := r.validate(record)
	if err != nil {
		return err
	}
	key := r.recordKey(record.ID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, recordFields(record))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stage pending code: %w", err)
	}
	return nil
}

// Save writes record and drops whichever handle was live for the same contact.
func (r *PendingCodeRepository) Save(ctx context.Context, record domain.PendingCode) error {
	ttl, err := r.validate(record)
	if err != nil {
		return err
	}

	liveKey := r.liveKey(record.Contact)
	recordKey := r.recordKey(record.ID)

	txf := func(tx *red.Tx) error {
		previous, err := tx.Get(ctx, liveKey).Result()
		if err != nil && !errors.Is(err, red.Nil) {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			if previous != "" && previous != record.ID {
				pipe.Del(ctx, r.recordKey(previous))
			}
			pipe.HSet(ctx, recordKey, recordFields(record))
			pipe.Expire(ctx, recordKey, ttl)
			pipe.Set(ctx, liveKey, record.ID, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := r.client.Watch(ctx, txf, liveKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, red.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis save pending code: %w", err)
	}
	return fmt.Errorf("redis save pending code: %w", red.TxFailedErr)
}

// Take reads and deletes the record in one transaction, so each handle is usable once.
func (r *PendingCodeRepository) Take(ctx context.Context, id string) (*domain.PendingCode, error) {
	if strings.TrimSpace(id) == "" {
		return nil, repository.ErrNotFound
	}
	key := r.recordKey(id)

	pipe := r.client.TxPipeline()
	get := pipe.HGetAll(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis take pending code: %w", err)
	}

	values := get.Val()
	if len(values) == 0 || values[fieldCodeHash] == "" {
		return nil, repository.ErrNotFound
	}

	createdAt, err := parseUnixNano(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := parseUnixNano(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if !r.now().Before(expiresAt) {
		return nil, repository.ErrNotFound
	}

	return &domain.PendingCode{
		ID:        id,
		Contact:   values[fieldContact],
		CodeHash:  values[fieldCodeHash],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (r *PendingCodeRepository) validate(record domain.PendingCode) (time.Duration, error) {
	switch {
	case strings.TrimSpace(record.ID) == "":
		return 0, errors.New("pending code id is required")
	case strings.TrimSpace(record.Contact) == "":
		return 0, errors.New("pending code contact is required")
	case record.CodeHash == "":
		return 0, errors.New("pending code hash is required")
	}
	ttl := record.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return 0, errors.New("pending code already expired")
	}
	return ttl, nil
}

func recordFields(record domain.PendingCode) map[string]any {
	return map[string]any{
		fieldContact:   record.Contact,
		fieldCodeHash:  record.CodeHash,
		fieldCreatedAt: formatUnixNano(record.CreatedAt),
		fieldExpiresAt: formatUnixNano(record.ExpiresAt),
	}
}

func (r *PendingCodeRepository) recordKey(id string) string {
	return joinKey(r.prefix, "pending", id)
}

func (r *PendingCodeRepository) liveKey(contact string) string {
	return joinKey(r.prefix, "pending_live", contact)
}

var _ port.PendingCodeStore = (*PendingCodeRepository)(nil)
