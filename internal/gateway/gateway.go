// Package gateway is the single entry point for authentication intents. Each
// call makes exactly one request to the identity provider and reports the
// outcome as a domain.AuthResult or a *domain.AuthError.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/logger"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/telemetry"
	"github.com/abdulhad-eng/home-fair-share/internal/usecase"
)

var (
	errSuperseded = errors.New("consent superseded by a newer request")
	errSignedOut  = errors.New("session signed out")
)

// Sessions is the per-slot identity store the gateway updates.
type Sessions interface {
	Current(ctx context.Context, sid string) (*domain.Identity, error)
	Set(ctx context.Context, sid string, identity *domain.Identity) error
	Clear(ctx context.Context, sid string) error
	Subscribe(ctx context.Context, sid string, fn usecase.IdentityListener) (usecase.Unsubscribe, error)
}

type consent struct {
	cancel context.CancelCauseFunc
}

// Gateway implements the authentication intents on top of a port.IdentityProvider.
type Gateway struct {
	provider port.IdentityProvider
	sessions Sessions
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger

	mu       sync.Mutex
	consents map[string]*consent
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithMetrics records call counts and latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) {
		if t != nil {
			g.tracer = t
		}
	}
}

// New builds a gateway.
func New(provider port.IdentityProvider, sessions Sessions, log *zap.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		provider: provider,
		sessions: sessions,
		tracer:   otel.Tracer(telemetry.TracerName),
		logger:   log,
		consents: make(map[string]*consent),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterWithEmail creates an account, queues its email verification and
// signs the session in as the new identity.
func (g *Gateway) RegisterWithEmail(ctx context.Context, sid, email, password string) domain.AuthResult {
	ctx, c := g.start(ctx, "register_with_email")

	identity, err := g.provider.CreateUser(ctx, domain.Credential{Email: email, Password: password})
	if err != nil {
		return c.result(g.fail(ctx, c.op, err))
	}
	if err := g.provider.SendEmailVerification(ctx, identity); err != nil {
		g.logger.Warn("email verification dispatch failed",
			zap.String("request_id", logger.RequestIDFromContext(ctx)),
			zap.String("user_id", identity.UID),
			zap.Error(err),
		)
	}
	return c.result(g.signIn(ctx, sid, identity))
}

// SignInWithEmail checks the credential and signs the session in.
func (g *Gateway) SignInWithEmail(ctx context.Context, sid, email, password string) domain.AuthResult {
	ctx, c := g.start(ctx, "sign_in_with_email")

	identity, err := g.provider.SignIn(ctx, domain.Credential{Email: email, Password: password})
	if err != nil {
		return c.result(g.fail(ctx, c.op, err))
	}
	return c.result(g.signIn(ctx, sid, identity))
}

// SignInWithSocialProvider runs an interactive consent flow for kind. The
// consent URL goes to presenter. A newer consent for the same sid cancels this
// one with auth/cancelled-popup-request; ctx ending reports auth/popup-closed-by-user.
func (g *Gateway) SignInWithSocialProvider(ctx context.Context, sid, kind string, presenter port.ConsentPresenter) domain.AuthResult {
	ctx, c := g.start(ctx, "sign_in_with_social_provider")

	provider, err := domain.ParseSocialProvider(kind)
	if err != nil {
		return c.result(g.fail(ctx, c.op, err))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.provider", string(provider)))

	consentCtx, release := g.beginConsent(ctx, sid)
	defer release()

	identity, err := g.provider.SignInWithConsent(consentCtx, provider, presenter)
	if err != nil {
		return c.result(g.fail(ctx, c.op, consentError(consentCtx, err)))
	}
	return c.result(g.signIn(ctx, sid, identity))
}

func (g *Gateway) beginConsent(ctx context.Context, sid string) (context.Context, func()) {
	consentCtx, cancel := context.WithCancelCause(ctx)
	entry := &consent{cancel: cancel}

	g.mu.Lock()
	if previous, ok := g.consents[sid]; ok {
		previous.cancel(errSuperseded)
	}
	g.consents[sid] = entry
	g.mu.Unlock()

	return consentCtx, func() {
		g.mu.Lock()
		if g.consents[sid] == entry {
			delete(g.consents, sid)
		}
		g.mu.Unlock()
		cancel(nil)
	}
}

func (g *Gateway) cancelConsent(sid string, cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.consents[sid]; ok {
		c.cancel(cause)
	}
}

func consentError(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(err, errSuperseded) || errors.Is(cause, errSuperseded):
		return domain.WrapAuthError(domain.CodeCancelledPopup, "this sign-in was replaced by a newer request", err)
	case ctx.Err() != nil:
		return domain.WrapAuthError(domain.CodePopupClosedByUser, "the sign-in window was closed before completing", err)
	}
	return err
}

// StartPhoneVerification sends a code to phone. challenge must be fresh and
// issued for the anchor it names.
func (g *Gateway) StartPhoneVerification(ctx context.Context, phone string, challenge domain.Challenge) (*domain.PendingVerification, error) {
	ctx, c := g.start(ctx, "start_phone_verification")

	pending, err := g.provider.SendPhoneCode(ctx, phone, challenge)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	c.ok()
	return pending, nil
}

// ConfirmPhoneCode checks code against pending and signs the session in.
// Malformed codes are rejected without contacting the provider.
func (g *Gateway) ConfirmPhoneCode(ctx context.Context, sid string, pending domain.PendingVerification, code string) domain.AuthResult {
	ctx, c := g.start(ctx, "confirm_phone_code")

	if err := domain.ValidateCode(code); err != nil {
		return c.result(domain.Failed(domain.WrapAuthError(domain.CodeInvalidCode, err.Error(), err)))
	}
	identity, err := g.provider.ConfirmPhoneCode(ctx, pending, code)
	if err != nil {
		return c.result(g.fail(ctx, c.op, err))
	}
	return c.result(g.signIn(ctx, sid, identity))
}

// ConfirmEmailLink consumes an emailed verification token. When sid holds the
// same account its identity is refreshed.
func (g *Gateway) ConfirmEmailLink(ctx context.Context, sid, token string) domain.AuthResult {
	ctx, c := g.start(ctx, "confirm_email_link")

	identity, err := g.provider.VerifyEmail(ctx, token)
	if err != nil {
		return c.result(g.fail(ctx, c.op, err))
	}
	g.refresh(ctx, sid, identity)
	return c.result(domain.Succeeded(identity))
}

// UpdateDisplayProfile changes the display name and photo of identity, or of
// the session's identity when nil. Nil or empty fields are left unchanged.
func (g *Gateway) UpdateDisplayProfile(ctx context.Context, sid string, identity *domain.Identity, displayName, photoURL *string) error {
	ctx, c := g.start(ctx, "update_display_profile")

	if identity == nil {
		current, err := g.sessions.Current(ctx, sid)
		if err != nil {
			return c.fail(ctx, err)
		}
		identity = current
	}
	if identity == nil {
		return c.fail(ctx, domain.NewAuthError(domain.CodeUserNotFound, "no signed-in user"))
	}

	updated, err := g.provider.UpdateProfile(ctx, identity.UID, domain.ProfileUpdate{DisplayName: displayName, PhotoURL: photoURL})
	if err != nil {
		return c.fail(ctx, err)
	}
	g.refresh(ctx, sid, updated)
	c.ok()
	return nil
}

// RequestPasswordReset asks the provider to send a reset link to email.
func (g *Gateway) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, c := g.start(ctx, "request_password_reset")

	if err := g.provider.SendPasswordReset(ctx, email); err != nil {
		return c.fail(ctx, err)
	}
	c.ok()
	return nil
}

// CompletePasswordReset sets a new password using an emailed reset token.
func (g *Gateway) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	ctx, c := g.start(ctx, "complete_password_reset")

	if err := g.provider.ResetPassword(ctx, token, newPassword); err != nil {
		return c.fail(ctx, err)
	}
	c.ok()
	return nil
}

// SignOutCurrentSession clears sid. Signing out an empty session succeeds.
func (g *Gateway) SignOutCurrentSession(ctx context.Context, sid string) error {
	ctx, c := g.start(ctx, "sign_out_current_session")

	g.cancelConsent(sid, errSignedOut)

	current, err := g.sessions.Current(ctx, sid)
	if err != nil {
		return c.fail(ctx, err)
	}
	if err := g.provider.SignOut(ctx, current); err != nil {
		return c.fail(ctx, err)
	}
	if err := g.sessions.Clear(ctx, sid); err != nil {
		return c.fail(ctx, err)
	}
	c.ok()
	return nil
}

// IssueChallenge creates the anti-automation challenge StartPhoneVerification requires.
func (g *Gateway) IssueChallenge(ctx context.Context, anchor string) (domain.Challenge, error) {
	ctx, c := g.start(ctx, "issue_challenge")

	challenge, err := g.provider.IssueChallenge(ctx, anchor)
	if err != nil {
		return domain.Challenge{}, c.fail(ctx, err)
	}
	c.ok()
	return challenge, nil
}

// Current returns the identity sid holds, or nil.
func (g *Gateway) Current(ctx context.Context, sid string) (*domain.Identity, error) {
	identity, err := g.sessions.Current(ctx, sid)
	if err != nil {
		return nil, normalize(err)
	}
	return identity, nil
}

// Subscribe delivers sid's current identity to fn immediately, then every change.
func (g *Gateway) Subscribe(ctx context.Context, sid string, fn usecase.IdentityListener) (usecase.Unsubscribe, error) {
	unsubscribe, err := g.sessions.Subscribe(ctx, sid, fn)
	if err != nil {
		return nil, normalize(err)
	}
	return unsubscribe, nil
}

// DescribeError maps any error to a user-facing sentence.
func DescribeError(err error) string {
	return domain.DescribeError(err)
}

func (g *Gateway) signIn(ctx context.Context, sid string, identity *domain.Identity) domain.AuthResult {
	if err := g.sessions.Set(ctx, sid, identity); err != nil {
		return g.fail(ctx, "set_session", err)
	}
	return domain.Succeeded(identity)
}

// refresh replaces sid's identity when it belongs to the same account.
func (g *Gateway) refresh(ctx context.Context, sid string, identity *domain.Identity) {
	if sid == "" || identity == nil {
		return
	}
	current, err := g.sessions.Current(ctx, sid)
	if err != nil || current == nil || current.UID != identity.UID {
		return
	}
	if err := g.sessions.Set(ctx, sid, identity); err != nil {
		g.logger.Warn("refresh session identity failed", zap.String("user_id", identity.UID), zap.Error(err))
	}
}

func (g *Gateway) fail(ctx context.Context, op string, err error) domain.AuthResult {
	authErr := domain.AsAuthError(normalize(err))
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("code", string(authErr.Code)),
		zap.String("request_id", logger.RequestIDFromContext(ctx)),
	}
	if authErr.Code == domain.CodeInternal {
		g.logger.Error("identity provider call failed", append(fields, zap.Error(err))...)
	} else {
		g.logger.Info("identity provider call rejected", fields...)
	}
	return domain.Failed(authErr)
}

// normalize turns context errors into provider codes. Everything else passes through.
func normalize(err error) error {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapAuthError(domain.CodeNetworkFailed, "the request timed out", err)
	case errors.Is(err, context.Canceled):
		return domain.WrapAuthError(domain.CodeNetworkFailed, "the request was cancelled", err)
	case errors.Is(err, usecase.ErrSessionRequired):
		return domain.WrapAuthError(domain.CodeInvalidArgument, err.Error(), err)
	}
	return err
}

type call struct {
	g       *Gateway
	op      string
	span    trace.Span
	started time.Time
}

func (g *Gateway) start(ctx context.Context, op string) (context.Context, *call) {
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(attribute.String("auth.operation", op)))
	return ctx, &call{g: g, op: op, span: span, started: time.Now()}
}

func (c *call) end(authErr *domain.AuthError) {
	code := ""
	if authErr != nil {
		code = string(authErr.Code)
		c.span.RecordError(authErr)
		c.span.SetStatus(codes.Error, code)
	}
	c.span.SetAttributes(attribute.String("auth.code", code))
	c.span.End()
	c.g.metrics.ObserveGatewayCall(c.op, code, time.Since(c.started))
}

// result finishes a call that reports an AuthResult.
func (c *call) result(res domain.AuthResult) domain.AuthResult {
	c.end(res.Err)
	return res
}

// fail finishes a call with err normalized to a provider error.
func (c *call) fail(ctx context.Context, err error) error {
	authErr := c.g.fail(ctx, c.op, err).Err
	c.end(authErr)
	return authErr
}

func (c *call) ok() {
	c.end(nil)
}
