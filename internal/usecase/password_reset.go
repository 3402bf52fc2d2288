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

// SendPasswordReset queues a reset link when the account exists. It reports
// success for unknown emails so callers cannot probe for accounts.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := p.allow(ctx, p.rule("password_reset", p.limits.PasswordResetMaxAttempts, 0), normalized); err != nil {
		return err
	}

	user, err := p.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Info("password reset requested for unknown email", maskedEmail(normalized))
			return nil
		}
		return internalError("lookup user", err)
	}

	raw, err := security.GenerateSecureToken(linkTokenBytes)
	if err != nil {
		return internalError("generate reset token", err)
	}
	ttl := p.verification.PasswordResetTTL
	if err := p.links.Save(ctx, linkPurposePasswordReset, security.HashToken(raw), user.ID, ttl); err != nil {
		return internalError("store reset token", err)
	}

	now := p.now()
	event := domain.PasswordResetRequestedEvent{
		EventID:     uuid.NewString(),
		UserID:      user.ID,
		Email:       normalized,
		Token:       raw,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := p.events.PublishPasswordResetRequested(ctx, event); err != nil {
		return publishError("password reset", err)
	}

	p.logger.Info("password reset queued", zap.String("user_id", user.ID))
	return nil
}

// ResetPassword consumes an emailed reset token and replaces the password.
func (p *Provider) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.NewAuthError(domain.CodeInvalidArgument, "reset token is required")
	}
	if err := p.checkPassword(newPassword); err != nil {
		return err
	}

	uid, err := p.links.Consume(ctx, linkPurposePasswordReset, security.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewAuthError(domain.CodeCodeExpired, "the reset link is invalid or has expired")
		}
		return internalError("consume reset token", err)
	}

	hash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return internalError("hash password", err)
	}
	if err := p.users.UpdatePassword(ctx, uid, hash, p.hasher.Algorithm(), p.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewAuthError(domain.CodeUserNotFound, "the account for this link no longer exists")
		}
		return internalError("update password", err)
	}

	p.logger.Info("password reset completed", zap.String("user_id", uid))
	return nil
}
