package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
)

func TestCreateUserAndSignIn(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	identity, err := h.provider.CreateUser(ctx, domain.Credential{Email: " Flat@Example.com ", Password: "hunter22"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if identity.Email != "flat@example.com" || identity.EmailVerified {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Providers) != 1 || identity.Providers[0] != "password" {
		t.Fatalf("expected password provider, got %v", identity.Providers)
	}

	signedIn, err := h.provider.SignIn(ctx, domain.Credential{Email: "flat@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	if signedIn.UID != identity.UID {
		t.Fatalf("signed in as %s, want %s", signedIn.UID, identity.UID)
	}

	_, err = h.provider.CreateUser(ctx, domain.Credential{Email: "flat@example.com", Password: "another1"})
	codeOf(t, err, domain.CodeEmailAlreadyInUse)
}

func TestCreateUserValidation(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	_, err := h.provider.CreateUser(ctx, domain.Credential{Email: "not-an-email", Password: "hunter22"})
	codeOf(t, err, domain.CodeInvalidEmail)

	_, err = h.provider.CreateUser(ctx, domain.Credential{Email: "a@b.co", Password: "12345"})
	codeOf(t, err, domain.CodeWeakPassword)
	if len(h.users.users) != 0 {
		t.Fatal("no account should be stored for rejected input")
	}
}

func TestSignInFailures(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	_, err := h.provider.SignIn(ctx, domain.Credential{Email: "ghost@example.com", Password: "whatever"})
	codeOf(t, err, domain.CodeUserNotFound)

	if _, err := h.provider.CreateUser(ctx, domain.Credential{Email: "flat@example.com", Password: "hunter22"}); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	_, err = h.provider.SignIn(ctx, domain.Credential{Email: "flat@example.com", Password: "wrong-pass"})
	codeOf(t, err, domain.CodeWrongPassword)
}

func TestSignInRateLimited(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.provider.SignIn(ctx, domain.Credential{Email: "flat@example.com", Password: "guess"})
	}
	_, err := h.provider.SignIn(ctx, domain.Credential{Email: "flat@example.com", Password: "guess"})
	codeOf(t, err, domain.CodeTooManyRequests)
	if !domain.AsAuthError(err).Retryable {
		t.Fatal("rate limit errors should be retryable")
	}
}

func TestEmailVerificationLink(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	identity, err := h.provider.CreateUser(ctx, domain.Credential{Email: "flat@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if err := h.provider.SendEmailVerification(ctx, identity); err != nil {
		t.Fatalf("SendEmailVerification returned error: %v", err)
	}
	if len(h.events.emails) != 1 || h.events.emails[0].Token == "" {
		t.Fatalf("expected one email event with a token, got %+v", h.events.emails)
	}

	verified, err := h.provider.VerifyEmail(ctx, h.events.emails[0].Token)
	if err != nil {
		t.Fatalf("VerifyEmail returned error: %v", err)
	}
	if !verified.EmailVerified {
		t.Fatal("expected email to be verified")
	}

	_, err = h.provider.VerifyEmail(ctx, h.events.emails[0].Token)
	codeOf(t, err, domain.CodeCodeExpired)
}

func TestSendEmailVerificationPublishFailure(t *testing.T) {
	h := newProviderHarness(t)
	h.events.failWith = errors.New("broker down")

	err := h.provider.SendEmailVerification(context.Background(), &domain.Identity{UID: "u1", Email: "flat@example.com"})
	codeOf(t, err, domain.CodeNetworkFailed)
}

func sendCode(t *testing.T, h *providerHarness, anchor, phone string) *domain.PendingVerification {
	t.Helper()
	ctx := context.Background()
	challenge, err := h.provider.IssueChallenge(ctx, anchor)
	if err != nil {
		t.Fatalf("IssueChallenge returned error: %v", err)
	}
	pending, err := h.provider.SendPhoneCode(ctx, phone, challenge)
	if err != nil {
		t.Fatalf("SendPhoneCode returned error: %v", err)
	}
	return pending
}

func TestPhoneCodeConfirmCreatesVerifiedUser(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	pending := sendCode(t, h, "send-code-button", "+1 555-123-4567")
	if pending.Contact != "+15551234567" {
		t.Fatalf("expected normalized contact, got %q", pending.Contact)
	}
	code := h.events.lastSMS(t).Code

	identity, err := h.provider.ConfirmPhoneCode(ctx, *pending, code)
	if err != nil {
		t.Fatalf("ConfirmPhoneCode returned error: %v", err)
	}
	if identity.Phone != "+15551234567" || !identity.PhoneVerified {
		t.Fatalf("unexpected identity %+v", identity)
	}

	_, err = h.provider.ConfirmPhoneCode(ctx, *pending, code)
	codeOf(t, err, domain.CodeCodeExpired)
}

func TestPhoneCodeMismatchConsumesHandle(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	pending := sendCode(t, h, "send-code-button", "+15551234567")
	code := h.events.lastSMS(t).Code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := h.provider.ConfirmPhoneCode(ctx, *pending, wrong)
	codeOf(t, err, domain.CodeInvalidCode)

	_, err = h.provider.ConfirmPhoneCode(ctx, *pending, code)
	codeOf(t, err, domain.CodeCodeExpired)
}

func TestResendSupersedesEarlierHandle(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	first := sendCode(t, h, "send-code-button", "+15551234567")
	firstCode := h.events.lastSMS(t).Code
	second := sendCode(t, h, "send-code-button-resend-1", "+15551234567")
	secondCode := h.events.lastSMS(t).Code

	_, err := h.provider.ConfirmPhoneCode(ctx, *first, firstCode)
	codeOf(t, err, domain.CodeCodeExpired)

	if _, err := h.provider.ConfirmPhoneCode(ctx, *second, secondCode); err != nil {
		t.Fatalf("latest handle should confirm, got %v", err)
	}
}

func TestFailedResendKeepsEarlierHandle(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	first := sendCode(t, h, "send-code-button", "+15551234567")
	firstCode := h.events.lastSMS(t).Code

	challenge, err := h.provider.IssueChallenge(ctx, "send-code-button-resend-1")
	if err != nil {
		t.Fatalf("IssueChallenge returned error: %v", err)
	}
	h.events.mu.Lock()
	h.events.failWith = errors.New("broker unavailable")
	h.events.mu.Unlock()

	_, err = h.provider.SendPhoneCode(ctx, "+15551234567", challenge)
	codeOf(t, err, domain.CodeNetworkFailed)
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) || !authErr.Retryable {
		t.Fatalf("expected a retryable error, got %v", err)
	}

	pendingKeys := 0
	for _, key := range h.redis.Keys() {
		if strings.HasPrefix(key, "test:pending:") {
			pendingKeys++
		}
	}
	if pendingKeys != 1 {
		t.Fatalf("expected only the earlier record to remain, got %d pending keys", pendingKeys)
	}

	if _, err := h.provider.ConfirmPhoneCode(ctx, *first, firstCode); err != nil {
		t.Fatalf("earlier handle should still confirm after a failed resend, got %v", err)
	}
}

func TestSendPhoneCodeRejectsBadInput(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	challenge, err := h.provider.IssueChallenge(ctx, "send-code-button")
	if err != nil {
		t.Fatalf("IssueChallenge returned error: %v", err)
	}

	_, err = h.provider.SendPhoneCode(ctx, "5551234", challenge)
	codeOf(t, err, domain.CodeInvalidPhoneNumber)

	forged := challenge
	forged.Anchor = "other-button"
	_, err = h.provider.SendPhoneCode(ctx, "+15551234567", forged)
	codeOf(t, err, domain.CodeCaptchaFailed)

	// The forged attempt consumed the challenge.
	_, err = h.provider.SendPhoneCode(ctx, "+15551234567", challenge)
	codeOf(t, err, domain.CodeCaptchaFailed)

	_, err = h.provider.ConfirmPhoneCode(ctx, domain.PendingVerification{ID: "x", Contact: "+15551234567"}, "12")
	codeOf(t, err, domain.CodeInvalidCode)
}

func TestSignInWithConsentResolvesAccounts(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()
	presenter := port.ConsentPresenterFunc(func(context.Context, string) error { return nil })

	existing, err := h.provider.CreateUser(ctx, domain.Credential{Email: "flat@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	h.social.assertion = &domain.SocialAssertion{
		Provider: domain.SocialGoogle, ProviderUserID: "g-1", Email: "flat@example.com", EmailVerified: true,
	}
	linked, err := h.provider.SignInWithConsent(ctx, domain.SocialGoogle, presenter)
	if err != nil {
		t.Fatalf("SignInWithConsent returned error: %v", err)
	}
	if linked.UID != existing.UID || !linked.EmailVerified {
		t.Fatalf("expected verified email match to link existing account, got %+v", linked)
	}

	again, err := h.provider.SignInWithConsent(ctx, domain.SocialGoogle, presenter)
	if err != nil || again.UID != existing.UID {
		t.Fatalf("expected linked identity reuse, got %+v %v", again, err)
	}
	if len(h.identities.links) != 1 {
		t.Fatalf("expected a single link, got %d", len(h.identities.links))
	}

	h.social.assertion = &domain.SocialAssertion{Provider: domain.SocialApple, ProviderUserID: "a-1", DisplayName: "Ada"}
	fresh, err := h.provider.SignInWithConsent(ctx, domain.SocialApple, presenter)
	if err != nil {
		t.Fatalf("SignInWithConsent returned error: %v", err)
	}
	if fresh.UID == existing.UID || fresh.DisplayName != "Ada" {
		t.Fatalf("expected a new account, got %+v", fresh)
	}
}

func TestSignInWithConsentPassesThroughCancellation(t *testing.T) {
	h := newProviderHarness(t)
	h.social.err = domain.NewAuthError(domain.CodePopupClosedByUser, "declined")

	_, err := h.provider.SignInWithConsent(context.Background(), domain.SocialGoogle,
		port.ConsentPresenterFunc(func(context.Context, string) error { return nil }))
	codeOf(t, err, domain.CodePopupClosedByUser)
}

func TestPasswordResetRoundTrip(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	if err := h.provider.SendPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("unknown email should report success, got %v", err)
	}
	if len(h.events.resets) != 0 {
		t.Fatal("no reset should be queued for an unknown email")
	}

	if _, err := h.provider.CreateUser(ctx, domain.Credential{Email: "flat@example.com", Password: "hunter22"}); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if err := h.provider.SendPasswordReset(ctx, "flat@example.com"); err != nil {
		t.Fatalf("SendPasswordReset returned error: %v", err)
	}
	token := h.events.resets[0].Token

	codeOf(t, h.provider.ResetPassword(ctx, token, "123"), domain.CodeWeakPassword)
	if err := h.provider.ResetPassword(ctx, token, "new-secret"); err != nil {
		t.Fatalf("ResetPassword returned error: %v", err)
	}
	codeOf(t, h.provider.ResetPassword(ctx, token, "new-secret"), domain.CodeCodeExpired)

	if _, err := h.provider.SignIn(ctx, domain.Credential{Email: "flat@example.com", Password: "new-secret"}); err != nil {
		t.Fatalf("SignIn with new password returned error: %v", err)
	}
}

func TestUpdateProfileKeepsOmittedFields(t *testing.T) {
	h := newProviderHarness(t)
	ctx := context.Background()

	identity, err := h.provider.CreateUser(ctx, domain.Credential{Email: "flat@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	name := "Sam"
	photo := "https://img.example/sam.png"
	if _, err := h.provider.UpdateProfile(ctx, identity.UID, domain.ProfileUpdate{DisplayName: &name, PhotoURL: &photo}); err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}

	blank := "  "
	updated, err := h.provider.UpdateProfile(ctx, identity.UID, domain.ProfileUpdate{DisplayName: &blank})
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}
	if updated.DisplayName != "Sam" || updated.PhotoURL != photo {
		t.Fatalf("blank fields must keep stored values, got %+v", updated)
	}

	_, err = h.provider.UpdateProfile(ctx, "missing", domain.ProfileUpdate{DisplayName: &name})
	codeOf(t, err, domain.CodeUserNotFound)
}
