package usecase

import (
	"context"
	"errors"
	"fmt"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

// SignIn checks an email and password pair.
func (p *Provider) SignIn(ctx context.Context, cred domain.Credential) (*domain.Identity, error) {
	email, err := normalizeEmail(cred.Email)
	if err != nil {
		return nil, err
	}
	if cred.Password == "" {
		return nil, domain.NewAuthError(domain.CodeWrongPassword, "password is required")
	}
	if err := p.allow(ctx, p.rule("sign_in", p.limits.SignInMaxAttempts, 0), email); err != nil {
		return nil, err
	}

	user, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.CodeUserNotFound, "there is no user record corresponding to this identifier")
		}
		return nil, internalError("lookup user", err)
	}
	if user.PasswordHash == "" {
		return nil, domain.NewAuthError(domain.CodeWrongPassword, "this account signs in with a linked provider")
	}

	ok, err := p.hasher.Verify(cred.Password, user.PasswordHash)
	if err != nil {
		return nil, internalError("verify password", err)
	}
	if !ok {
		p.logger.Info("password rejected", zap.String("user_id", user.ID))
		return nil, domain.NewAuthError(domain.CodeWrongPassword, "the password is invalid")
	}

	p.touchSignIn(ctx, user.ID)
	return p.identityFor(ctx, user)
}

// SignInWithConsent runs the social consent flow and resolves the account it
// belongs to: an existing link first, then a verified email match, then a new account.
func (p *Provider) SignInWithConsent(ctx context.Context, kind domain.SocialProvider, presenter port.ConsentPresenter) (*domain.Identity, error) {
	if p.social == nil {
		return nil, domain.NewAuthError(domain.CodeOperationNotFound, "social sign-in is not enabled")
	}
	assertion, err := p.social.Authenticate(ctx, kind, presenter)
	if err != nil {
		return nil, err
	}

	user, err := p.resolveSocialUser(ctx, assertion)
	if err != nil {
		return nil, err
	}
	p.touchSignIn(ctx, user.ID)
	return p.identityFor(ctx, user)
}

func (p *Provider) resolveSocialUser(ctx context.Context, assertion *domain.SocialAssertion) (*domain.User, error) {
	link, err := p.identities.GetByProvider(ctx, assertion.Provider, assertion.ProviderUserID)
	switch {
	case err == nil:
		user, err := p.users.GetByID(ctx, link.UserID)
		if err != nil {
			return nil, internalError("load linked user", err)
		}
		return user, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, internalError("lookup linked identity", err)
	}

	now := p.now()
	var user *domain.User
	if assertion.Email != "" && assertion.EmailVerified {
		existing, err := p.users.GetByEmail(ctx, assertion.Email)
		switch {
		case err == nil:
			user = existing
			if !existing.EmailVerified {
				if err := p.users.MarkEmailVerified(ctx, existing.ID, now); err != nil {
					return nil, internalError("mark email verified", err)
				}
				user.EmailVerified = true
			}
		case !errors.Is(err, repository.ErrNotFound):
			return nil, internalError("lookup user", err)
		}
	}

	if user == nil {
		user = &domain.User{
			ID:            uuid.NewString(),
			DisplayName:   assertion.DisplayName,
			PhotoURL:      assertion.PhotoURL,
			EmailVerified: assertion.EmailVerified,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if assertion.Email != "" {
			email := assertion.Email
			user.Email = &email
		}
		if err := p.users.Create(ctx, *user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, domain.NewAuthError(domain.CodeEmailAlreadyInUse,
					"an account already exists with the same email address but different sign-in credentials")
			}
			return nil, internalError("create user", err)
		}
	}

	err = p.identities.Create(ctx, domain.LinkedIdentity{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Provider:       assertion.Provider,
		ProviderUserID: assertion.ProviderUserID,
		Email:          assertion.Email,
		CreatedAt:      now,
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return nil, internalError(fmt.Sprintf("link %s identity", assertion.Provider), err)
	}

	p.logger.Info("social identity linked",
		zap.String("user_id", user.ID),
		zap.String("provider", string(assertion.Provider)),
	)
	return user, nil
}

// SignOut has nothing to revoke at the provider level; session slots are
// cleared by the gateway.
func (p *Provider) SignOut(_ context.Context, identity *domain.Identity) error {
	if identity != nil {
		p.logger.Debug("signed out", zap.String("user_id", identity.UID))
	}
	return nil
}
