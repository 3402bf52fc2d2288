package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

// UpdateProfile changes the display name and photo. Nil or blank fields keep
// the stored value.
func (p *Provider) UpdateProfile(ctx context.Context, uid string, update domain.ProfileUpdate) (*domain.Identity, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, domain.NewAuthError(domain.CodeInvalidArgument, "user id is required")
	}

	update = domain.ProfileUpdate{
		DisplayName: nonBlank(update.DisplayName),
		PhotoURL:    nonBlank(update.PhotoURL),
	}
	if update.Empty() {
		return p.loadIdentity(ctx, uid)
	}

	if err := p.users.UpdateProfile(ctx, uid, update, p.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.CodeUserNotFound, "no user record for this identifier")
		}
		return nil, internalError("update profile", err)
	}
	return p.loadIdentity(ctx, uid)
}

func nonBlank(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
