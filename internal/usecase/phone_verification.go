package usecase

import (
	"context"
	"errors"
	"strings"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/logger"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/security"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

// IssueChallenge creates a single-use anti-automation token bound to anchor.
func (p *Provider) IssueChallenge(ctx context.Context, anchor string) (domain.Challenge, error) {
	anchor = strings.TrimSpace(anchor)
	if anchor == "" {
		return domain.Challenge{}, domain.NewAuthError(domain.CodeInvalidArgument, "challenge anchor is required")
	}
	token, err := security.GenerateSecureToken(challengeTokenBytes)
	if err != nil {
		return domain.Challenge{}, internalError("generate challenge", err)
	}

	challenge := domain.Challenge{Token: token, Anchor: anchor, IssuedAt: p.now()}
	if err := p.challenges.Save(ctx, challenge, p.verification.ChallengeTTL); err != nil {
		return domain.Challenge{}, internalError("store challenge", err)
	}
	return challenge, nil
}

// SendPhoneCode consumes challenge, stores a hashed code for phone and queues
// the SMS. Once the SMS is queued any earlier handle for the same phone stops
// being accepted; if queueing fails the earlier handle is left untouched.
func (p *Provider) SendPhoneCode(ctx context.Context, phone string, challenge domain.Challenge) (*domain.PendingVerification, error) {
	normalized, err := normalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if err := p.consumeChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	rule := p.rule("phone_send", p.limits.PhoneSendMaxAttempts, p.limits.PhoneSendWindow)
	if err := p.allow(ctx, rule, normalized); err != nil {
		return nil, err
	}

	code, err := security.GenerateNumericCode(domain.CodeLength)
	if err != nil {
		return nil, internalError("generate code", err)
	}

	now := p.now()
	record := domain.PendingCode{
		ID:        uuid.NewString(),
		Contact:   normalized,
		CreatedAt: now,
		ExpiresAt: now.Add(p.verification.CodeTTL),
	}
	record.CodeHash = security.HashCode(record.ID, code)

	if err := p.pending.Stage(ctx, record); err != nil {
		return nil, internalError("store pending code", err)
	}

	event := domain.SMSCodeRequestedEvent{
		EventID:     uuid.NewString(),
		PendingID:   record.ID,
		Phone:       normalized,
		Code:        code,
		RequestedAt: now,
		ExpiresAt:   record.ExpiresAt,
	}
	if err := p.events.PublishSMSCodeRequested(ctx, event); err != nil {
		// the earlier handle stays live; only the staged record is dropped
		if _, dropErr := p.pending.Take(context.WithoutCancel(ctx), record.ID); dropErr != nil && !errors.Is(dropErr, repository.ErrNotFound) {
			p.logger.Warn("failed to drop undelivered phone code",
				zap.String("pending_id", record.ID),
				zap.Error(dropErr),
			)
		}
		return nil, publishError("sms code", err)
	}
	if err := p.pending.Save(ctx, record); err != nil {
		return nil, internalError("activate pending code", err)
	}

	p.logger.Info("phone code dispatched",
		zap.String("pending_id", record.ID),
		zap.String("phone", logger.MaskPhone(normalized)),
	)
	handle := record.Handle()
	return &handle, nil
}

func (p *Provider) consumeChallenge(ctx context.Context, challenge domain.Challenge) error {
	if challenge.Token == "" {
		return domain.NewAuthError(domain.CodeCaptchaFailed, "a challenge token is required")
	}
	stored, err := p.challenges.Consume(ctx, challenge.Token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewAuthError(domain.CodeCaptchaFailed, "the challenge is unknown, expired or already used")
		}
		return internalError("consume challenge", err)
	}
	if stored.Anchor != challenge.Anchor {
		return domain.NewAuthError(domain.CodeCaptchaFailed, "the challenge was issued for another element")
	}
	return nil
}

// ConfirmPhoneCode checks code against the handle. The handle is consumed by
// the attempt whatever its outcome.
func (p *Provider) ConfirmPhoneCode(ctx context.Context, pending domain.PendingVerification, code string) (*domain.Identity, error) {
	if err := domain.ValidateCode(code); err != nil {
		return nil, domain.WrapAuthError(domain.CodeInvalidCode, err.Error(), err)
	}
	if pending.ID == "" {
		return nil, domain.NewAuthError(domain.CodeCodeExpired, "handle already used or expired")
	}

	record, err := p.pending.Take(ctx, pending.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.CodeCodeExpired, "handle already used or expired")
		}
		return nil, internalError("take pending code", err)
	}
	if record.Contact != pending.Contact || !p.now().Before(record.ExpiresAt) {
		return nil, domain.NewAuthError(domain.CodeCodeExpired, "handle already used or expired")
	}
	if !security.EqualHashes(record.CodeHash, security.HashCode(record.ID, code)) {
		return nil, domain.NewAuthError(domain.CodeInvalidCode, "the verification code is invalid")
	}

	user, err := p.phoneUser(ctx, record.Contact)
	if err != nil {
		return nil, err
	}
	p.touchSignIn(ctx, user.ID)
	return p.identityFor(ctx, user)
}

func (p *Provider) phoneUser(ctx context.Context, phone string) (*domain.User, error) {
	user, err := p.users.GetByPhone(ctx, phone)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, internalError("lookup user", err)
	}

	now := p.now()
	created := domain.User{
		ID:            uuid.NewString(),
		Phone:         &phone,
		PhoneVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.users.Create(ctx, created); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Lost a race with a concurrent confirm for the same phone.
			existing, err := p.users.GetByPhone(ctx, phone)
			if err != nil {
				return nil, internalError("lookup user", err)
			}
			return existing, nil
		}
		return nil, internalError("create user", err)
	}
	p.logger.Info("account created from phone", zap.String("user_id", created.ID))
	return &created, nil
}
