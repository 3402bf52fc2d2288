package usecase

import (
	"context"
	"errors"
	"strings"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/security"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

// CreateUser registers an email and password account.
func (p *Provider) CreateUser(ctx context.Context, cred domain.Credential) (*domain.Identity, error) {
	email, err := normalizeEmail(cred.Email)
	if err != nil {
		return nil, err
	}
	if err := p.allow(ctx, p.rule("register", p.limits.RegisterMaxAttempts, 0), email); err != nil {
		return nil, err
	}
	if err := p.checkPassword(cred.Password, email); err != nil {
		return nil, err
	}

	if _, err := p.users.GetByEmail(ctx, email); err == nil {
		return nil, domain.NewAuthError(domain.CodeEmailAlreadyInUse, "the email address is already in use by another account")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, internalError("lookup user", err)
	}

	hash, err := p.hasher.Hash(cred.Password)
	if err != nil {
		return nil, internalError("hash password", err)
	}

	now := p.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        &email,
		PasswordHash: hash,
		PasswordAlgo: p.hasher.Algorithm(),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSignInAt: &now,
	}
	if err := p.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.NewAuthError(domain.CodeEmailAlreadyInUse, "the email address is already in use by another account")
		}
		return nil, internalError("create user", err)
	}

	p.logger.Info("account registered", zap.String("user_id", user.ID), maskedEmail(email))
	return user.ToIdentity(), nil
}

func (p *Provider) checkPassword(password string, userInputs ...string) error {
	if err := p.policy.Validate(password, userInputs...); err != nil {
		var violation *security.PasswordValidationError
		if errors.As(err, &violation) {
			return domain.WrapAuthError(domain.CodeWeakPassword, violation.Message, err)
		}
		return internalError("validate password", err)
	}
	return nil
}

// SendEmailVerification issues a single-use link token and queues the email.
func (p *Provider) SendEmailVerification(ctx context.Context, identity *domain.Identity) error {
	if identity == nil || identity.UID == "" {
		return domain.NewAuthError(domain.CodeInvalidArgument, "a signed-in identity is required")
	}
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		return domain.NewAuthError(domain.CodeInvalidArgument, "identity has no email address")
	}

	raw, err := security.GenerateSecureToken(linkTokenBytes)
	if err != nil {
		return internalError("generate verification token", err)
	}
	ttl := p.verification.EmailLinkTTL
	if err := p.links.Save(ctx, linkPurposeEmailVerification, security.HashToken(raw), identity.UID, ttl); err != nil {
		return internalError("store verification token", err)
	}

	now := p.now()
	event := domain.EmailVerificationRequestedEvent{
		EventID:     uuid.NewString(),
		UserID:      identity.UID,
		Email:       email,
		Token:       raw,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := p.events.PublishEmailVerificationRequested(ctx, event); err != nil {
		return publishError("email verification", err)
	}
	return nil
}

// VerifyEmail consumes an emailed verification token.
func (p *Provider) VerifyEmail(ctx context.Context, token string) (*domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.NewAuthError(domain.CodeInvalidArgument, "verification token is required")
	}

	uid, err := p.links.Consume(ctx, linkPurposeEmailVerification, security.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.CodeCodeExpired, "the verification link is invalid or has expired")
		}
		return nil, internalError("consume verification token", err)
	}

	if err := p.users.MarkEmailVerified(ctx, uid, p.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.CodeUserNotFound, "the account for this link no longer exists")
		}
		return nil, internalError("mark email verified", err)
	}
	return p.loadIdentity(ctx, uid)
}
