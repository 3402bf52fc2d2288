package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

// LinkedIdentityRepository stores the social accounts attached to each user.
type LinkedIdentityRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

func NewLinkedIdentityRepository(exec pgExecutor) *LinkedIdentityRepository {
	return &LinkedIdentityRepository{exec: exec, builder: newBuilder()}
}

func (r *LinkedIdentityRepository) Create(ctx context.Context, link domain.LinkedIdentity) error {
	var email any
	if link.Email != "" {
		email = link.Email
	}

	stmt, args, err := r.builder.Insert(identitiesTable).
		Columns("id", "user_id", "provider", "provider_user_id", "email", "created_at").
		Values(link.ID, link.UserID, string(link.Provider), link.ProviderUserID, email, link.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert identity sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert identity: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (r *LinkedIdentityRepository) GetByProvider(ctx context.Context, provider domain.SocialProvider, providerUserID string) (*domain.LinkedIdentity, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "provider", "provider_user_id", "COALESCE(email, '')", "created_at").
		From(identitiesTable).
		Where(squirrel.Eq{"provider": string(provider), "provider_user_id": providerUserID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select identity sql: %w", err)
	}

	var (
		link        domain.LinkedIdentity
		providerRaw string
	)
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(&link.ID, &link.UserID, &providerRaw, &link.ProviderUserID, &link.Email, &link.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select identity: %w", err)
	}
	link.Provider = domain.SocialProvider(providerRaw)
	return &link, nil
}

// ListProviders returns provider names linked to the user, oldest link first.
func (r *LinkedIdentityRepository) ListProviders(ctx context.Context, userID string) ([]string, error) {
	stmt, args, err := r.builder.Select("provider").
		From(identitiesTable).
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list providers sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	return providers, nil
}

var _ port.LinkedIdentityRepository = (*LinkedIdentityRepository)(nil)
