package port

import (
	"context"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// IdentityProvider is the external identity system the gateway talks to.
// Every failure it reports should be a *domain.AuthError; anything else is
// treated as an internal error by the gateway.
type IdentityProvider interface {
	CreateUser(ctx context.Context, cred domain.Credential) (*domain.Identity, error)
	SignIn(ctx context.Context, cred domain.Credential) (*domain.Identity, error)
	SendEmailVerification(ctx context.Context, identity *domain.Identity) error
	VerifyEmail(ctx context.Context, token string) (*domain.Identity, error)

	// SignInWithConsent blocks until the interactive consent completes or ctx ends.
	SignInWithConsent(ctx context.Context, kind domain.SocialProvider, presenter ConsentPresenter) (*domain.Identity, error)

	IssueChallenge(ctx context.Context, anchor string) (domain.Challenge, error)
	SendPhoneCode(ctx context.Context, phone string, challenge domain.Challenge) (*domain.PendingVerification, error)
	ConfirmPhoneCode(ctx context.Context, pending domain.PendingVerification, code string) (*domain.Identity, error)

	UpdateProfile(ctx context.Context, uid string, update domain.ProfileUpdate) (*domain.Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	SignOut(ctx context.Context, identity *domain.Identity) error
}

// ConsentPresenter shows the consent URL on a UI surface separate from the caller's.
type ConsentPresenter interface {
	PresentConsent(ctx context.Context, url string) error
}

// ConsentPresenterFunc adapts a function to ConsentPresenter.
type ConsentPresenterFunc func(ctx context.Context, url string) error

func (f ConsentPresenterFunc) PresentConsent(ctx context.Context, url string) error {
	return f(ctx, url)
}

// SocialConsent runs a consent flow and returns the provider's verified assertion.
type SocialConsent interface {
	Authenticate(ctx context.Context, kind domain.SocialProvider, presenter ConsentPresenter) (*domain.SocialAssertion, error)
}
