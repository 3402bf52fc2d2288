// Package social runs interactive consent flows against external OpenID
// Connect providers. A Broker pairs the caller waiting in Authenticate with the
// provider callback that later arrives through Complete.
package social

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/security"
)

const (
	stateBytes            = 24
	defaultConsentTimeout = 5 * time.Minute
)

var (
	// ErrUnknownState is returned by Complete when no consent is waiting for the state.
	ErrUnknownState = errors.New("social: unknown or expired consent state")
	// ErrProviderMismatch is returned when a callback arrives on another provider's route.
	ErrProviderMismatch = errors.New("social: callback provider does not match consent")
)

// Callback carries the query or form parameters of a provider redirect.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
	// User is Apple's first-authorization user JSON. Other providers leave it empty.
	User string
}

// Connector is one configured OpenID Connect provider.
type Connector interface {
	Provider() domain.SocialProvider
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, cb Callback, nonce string) (*domain.SocialAssertion, error)
}

type consentOutcome struct {
	assertion *domain.SocialAssertion
	err       error
}

type pendingConsent struct {
	provider domain.SocialProvider
	nonce    string
	done     chan consentOutcome
}

// Broker implements port.SocialConsent.
type Broker struct {
	mu         sync.Mutex
	connectors map[domain.SocialProvider]Connector
	pending    map[string]*pendingConsent
	timeout    time.Duration
	logger     *zap.Logger
}

var _ port.SocialConsent = (*Broker)(nil)

// NewBroker registers the given connectors. A zero timeout uses five minutes.
func NewBroker(timeout time.Duration, logger *zap.Logger, connectors ...Connector) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultConsentTimeout
	}
	b := &Broker{
		connectors: make(map[domain.SocialProvider]Connector, len(connectors)),
		pending:    make(map[string]*pendingConsent),
		timeout:    timeout,
		logger:     logger,
	}
	for _, c := range connectors {
		if c != nil {
			b.connectors[c.Provider()] = c
		}
	}
	return b
}

// Enabled reports whether a connector is configured for kind.
func (b *Broker) Enabled(kind domain.SocialProvider) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.connectors[kind]
	return ok
}

// Authenticate shows the consent URL through presenter and waits for the
// matching callback. When ctx ends first, the returned error wraps context.Cause(ctx).
func (b *Broker) Authenticate(ctx context.Context, kind domain.SocialProvider, presenter port.ConsentPresenter) (*domain.SocialAssertion, error) {
	b.mu.Lock()
	connector, ok := b.connectors[kind]
	b.mu.Unlock()
	if !ok {
		return nil, domain.NewAuthError(domain.CodeOperationNotFound, fmt.Sprintf("%s sign-in is not enabled", kind))
	}
	if presenter == nil {
		return nil, domain.NewAuthError(domain.CodeInvalidArgument, "consent presenter is required")
	}

	state, err := security.GenerateSecureToken(stateBytes)
	if err != nil {
		return nil, domain.WrapAuthError(domain.CodeInternal, "generate consent state", err)
	}
	nonce, err := security.GenerateSecureToken(stateBytes)
	if err != nil {
		return nil, domain.WrapAuthError(domain.CodeInternal, "generate consent nonce", err)
	}

	p := &pendingConsent{provider: kind, nonce: nonce, done: make(chan consentOutcome, 1)}
	b.mu.Lock()
	b.pending[state] = p
	b.mu.Unlock()
	defer b.forget(state)

	if err := presenter.PresentConsent(ctx, connector.AuthCodeURL(state, nonce)); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("present consent: %w", context.Cause(ctx))
		}
		return nil, domain.WrapAuthError(domain.CodePopupClosedByUser, "consent window could not be shown", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case out := <-p.done:
		return out.assertion, out.err
	case <-timer.C:
		b.logger.Info("social consent timed out", zap.String("provider", string(kind)))
		return nil, domain.NewAuthError(domain.CodePopupClosedByUser, "consent was not completed in time")
	case <-ctx.Done():
		return nil, fmt.Errorf("await consent: %w", context.Cause(ctx))
	}
}

// Complete resolves the consent identified by cb.State. The waiting
// Authenticate call receives the same outcome that Complete returns.
func (b *Broker) Complete(ctx context.Context, kind domain.SocialProvider, cb Callback) (*domain.SocialAssertion, error) {
	b.mu.Lock()
	p, ok := b.pending[cb.State]
	if ok && p.provider == kind {
		delete(b.pending, cb.State)
	}
	connector := b.connectors[kind]
	b.mu.Unlock()

	if !ok || cb.State == "" {
		return nil, ErrUnknownState
	}
	if p.provider != kind {
		return nil, ErrProviderMismatch
	}

	var out consentOutcome
	switch {
	case cb.Error != "":
		b.logger.Info("social consent declined",
			zap.String("provider", string(kind)),
			zap.String("error", cb.Error),
		)
		out.err = domain.NewAuthError(domain.CodePopupClosedByUser, declineMessage(cb))
	case cb.Code == "":
		out.err = domain.NewAuthError(domain.CodeInvalidArgument, "callback carried no authorization code")
	case connector == nil:
		out.err = domain.NewAuthError(domain.CodeOperationNotFound, fmt.Sprintf("%s sign-in is not enabled", kind))
	default:
		out.assertion, out.err = connector.Exchange(ctx, cb, p.nonce)
		if out.err != nil {
			b.logger.Warn("social code exchange failed",
				zap.String("provider", string(kind)),
				zap.Error(out.err),
			)
			if domain.ErrorCodeOf(out.err) == domain.CodeInternal {
				out.err = domain.WrapAuthError(domain.CodeInternal, "sign-in with "+string(kind)+" failed", out.err)
			}
		}
	}

	select {
	case p.done <- out:
	default:
	}
	return out.assertion, out.err
}

func (b *Broker) forget(state string) {
	b.mu.Lock()
	delete(b.pending, state)
	b.mu.Unlock()
}

func declineMessage(cb Callback) string {
	if cb.ErrorDescription != "" {
		return cb.ErrorDescription
	}
	return "consent declined: " + cb.Error
}
