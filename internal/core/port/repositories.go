package port

import (
	"context"
	"time"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// UserRepository exposes persistence behavior for accounts.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate, at time.Time) error
	UpdatePassword(ctx context.Context, id string, passwordHash, passwordAlgo string, at time.Time) error
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	TouchSignIn(ctx context.Context, id string, at time.Time) error
}

// LinkedIdentityRepository maps social accounts to users.
type LinkedIdentityRepository interface {
	Create(ctx context.Context, link domain.LinkedIdentity) error
	GetByProvider(ctx context.Context, provider domain.SocialProvider, providerUserID string) (*domain.LinkedIdentity, error)
	ListProviders(ctx context.Context, userID string) ([]string, error)
}
