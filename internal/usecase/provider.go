// Package usecase holds the bundled identity provider: account, credential,
// phone-code and social sign-in flows on top of PostgreSQL and Redis, plus the
// session tracker that records which identity each client auth slot holds.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/logger"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/security"
	"github.com/abdulhad-eng/home-fair-share/internal/ratelimit"
	"github.com/abdulhad-eng/home-fair-share/internal/repository"
)

const (
	linkPurposeEmailVerification = "email_verification"
	linkPurposePasswordReset     = "password_reset"

	linkTokenBytes      = 32
	challengeTokenBytes = 24

	providerPassword = "password"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// ProviderDeps lists the stores and collaborators of the bundled provider.
// Social may be nil, which disables consent sign-in.
type ProviderDeps struct {
	Users      port.UserRepository
	Identities port.LinkedIdentityRepository
	Pending    port.PendingCodeStore
	Challenges port.ChallengeStore
	Links      port.LinkTokenStore
	Limiter    *ratelimit.Limiter
	Hasher     *security.Argon2Hasher
	Policy     *security.PasswordPolicy
	Events     port.EventPublisher
	Social     port.SocialConsent
}

// Provider implements port.IdentityProvider. Every failure it reports is a
// *domain.AuthError.
type Provider struct {
	verification config.VerificationSettings
	limits       config.RateLimitSettings

	users      port.UserRepository
	identities port.LinkedIdentityRepository
	pending    port.PendingCodeStore
	challenges port.ChallengeStore
	links      port.LinkTokenStore
	limiter    *ratelimit.Limiter
	hasher     *security.Argon2Hasher
	policy     *security.PasswordPolicy
	events     port.EventPublisher
	social     port.SocialConsent

	logger *zap.Logger
	now    func() time.Time
}

var _ port.IdentityProvider = (*Provider)(nil)

// NewProvider constructs the bundled provider.
func NewProvider(cfg *config.AppConfig, deps ProviderDeps, log *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, errors.New("usecase: config is required")
	}
	if deps.Users == nil || deps.Identities == nil {
		return nil, errors.New("usecase: user and identity repositories are required")
	}
	if deps.Pending == nil || deps.Challenges == nil || deps.Links == nil {
		return nil, errors.New("usecase: verification stores are required")
	}
	if deps.Events == nil {
		return nil, errors.New("usecase: event publisher is required")
	}
	if deps.Hasher == nil {
		hasher, err := security.NewArgon2Hasher(security.DefaultArgon2Config())
		if err != nil {
			return nil, err
		}
		deps.Hasher = hasher
	}
	if deps.Policy == nil {
		deps.Policy = security.NewPasswordPolicy(security.MinPasswordLength, cfg.Verification.MinPasswordScore)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Provider{
		verification: cfg.Verification,
		limits:       cfg.RateLimit,
		users:        deps.Users,
		identities:   deps.Identities,
		pending:      deps.Pending,
		challenges:   deps.Challenges,
		links:        deps.Links,
		limiter:      deps.Limiter,
		hasher:       deps.Hasher,
		policy:       deps.Policy,
		events:       deps.Events,
		social:       deps.Social,
		logger:       log,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the internal clock for deterministic tests.
func (p *Provider) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
	}
}

// allow evaluates a limit. Store failures are logged and the attempt proceeds.
func (p *Provider) allow(ctx context.Context, rule ratelimit.Rule, identifier string) error {
	decision, err := p.limiter.Allow(ctx, rule, identifier)
	if err != nil {
		p.logger.Warn("rate limit check failed", zap.String("rule", rule.Name), zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		return domain.NewAuthError(domain.CodeTooManyRequests,
			fmt.Sprintf("too many attempts, retry in %s", decision.RetryAfter.Round(time.Second)))
	}
	return nil
}

func (p *Provider) rule(name string, limit int, window time.Duration) ratelimit.Rule {
	if window <= 0 {
		window = p.limits.WindowDuration
	}
	return ratelimit.Rule{Name: name, Limit: limit, Window: window}
}

// identityFor projects user with its linked providers.
func (p *Provider) identityFor(ctx context.Context, user *domain.User) (*domain.Identity, error) {
	providers, err := p.identities.ListProviders(ctx, user.ID)
	if err != nil {
		return nil, internalError("list linked providers", err)
	}
	return user.ToIdentity(providers...), nil
}

func (p *Provider) loadIdentity(ctx context.Context, uid string) (*domain.Identity, error) {
	user, err := p.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewAuthError(domain.CodeUserNotFound, "no user record for this identifier")
		}
		return nil, internalError("load user", err)
	}
	return p.identityFor(ctx, user)
}

func (p *Provider) touchSignIn(ctx context.Context, uid string) {
	if err := p.users.TouchSignIn(ctx, uid, p.now()); err != nil {
		p.logger.Warn("record sign-in time failed", zap.String("user_id", uid), zap.Error(err))
	}
}

func internalError(op string, err error) *domain.AuthError {
	return domain.WrapAuthError(domain.CodeInternal, op+" failed", err)
}

func publishError(op string, err error) *domain.AuthError {
	return domain.WrapAuthError(domain.CodeNetworkFailed, op+": notification could not be queued", err)
}

// normalizeEmail trims and lower-cases email, rejecting anything that is not a bare address.
func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", domain.NewAuthError(domain.CodeInvalidEmail, "email address is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed || !strings.Contains(trimmed[strings.LastIndex(trimmed, "@"):], ".") {
		return "", domain.NewAuthError(domain.CodeInvalidEmail, "the email address is badly formatted")
	}
	return trimmed, nil
}

// normalizePhone strips common separators and requires E.164.
func normalizePhone(phone string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
	if !e164Pattern.MatchString(cleaned) {
		return "", domain.NewAuthError(domain.CodeInvalidPhoneNumber, "phone number must be in E.164 format")
	}
	return cleaned, nil
}

func maskedEmail(email string) zap.Field {
	return zap.String("email", logger.MaskEmail(email))
}
