package social

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

type fakeConnector struct {
	kind      domain.SocialProvider
	assertion *domain.SocialAssertion
	err       error
	calls     int
	lastNonce string
}

func (f *fakeConnector) Provider() domain.SocialProvider { return f.kind }

func (f *fakeConnector) AuthCodeURL(state, nonce string) string {
	return "https://consent.test/authorize?state=" + url.QueryEscape(state) + "&nonce=" + url.QueryEscape(nonce)
}

func (f *fakeConnector) Exchange(_ context.Context, _ Callback, nonce string) (*domain.SocialAssertion, error) {
	f.calls++
	f.lastNonce = nonce
	return f.assertion, f.err
}

// statePresenter hands the consent state to the test goroutine.
func statePresenter(states chan<- string) port.ConsentPresenter {
	return port.ConsentPresenterFunc(func(_ context.Context, raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return err
		}
		states <- u.Query().Get("state")
		return nil
	})
}

type authOutcome struct {
	assertion *domain.SocialAssertion
	err       error
}

func startAuthenticate(ctx context.Context, b *Broker, kind domain.SocialProvider) (<-chan string, <-chan authOutcome) {
	states := make(chan string, 1)
	results := make(chan authOutcome, 1)
	go func() {
		a, err := b.Authenticate(ctx, kind, statePresenter(states))
		results <- authOutcome{a, err}
	}()
	return states, results
}

func TestBrokerDeliversCallbackToWaitingCaller(t *testing.T) {
	connector := &fakeConnector{kind: domain.SocialGoogle, assertion: &domain.SocialAssertion{
		Provider: domain.SocialGoogle, ProviderUserID: "g-1", Email: "flat@example.com",
	}}
	b := NewBroker(time.Minute, nil, connector)

	states, results := startAuthenticate(context.Background(), b, domain.SocialGoogle)
	state := <-states

	if _, err := b.Complete(context.Background(), domain.SocialGoogle, Callback{State: state, Code: "auth-code"}); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	out := <-results
	if out.err != nil || out.assertion == nil || out.assertion.ProviderUserID != "g-1" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if connector.lastNonce == "" {
		t.Fatal("expected the nonce to be passed to the exchange")
	}

	if _, err := b.Complete(context.Background(), domain.SocialGoogle, Callback{State: state, Code: "auth-code"}); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected replayed callback to be rejected, got %v", err)
	}
}

func TestBrokerDeclinedConsent(t *testing.T) {
	connector := &fakeConnector{kind: domain.SocialApple}
	b := NewBroker(time.Minute, nil, connector)

	states, results := startAuthenticate(context.Background(), b, domain.SocialApple)
	state := <-states

	_, err := b.Complete(context.Background(), domain.SocialApple, Callback{State: state, Error: "user_cancelled_authorize"})
	if domain.ErrorCodeOf(err) != domain.CodePopupClosedByUser {
		t.Fatalf("expected popup-closed-by-user, got %v", err)
	}

	out := <-results
	if domain.ErrorCodeOf(out.err) != domain.CodePopupClosedByUser {
		t.Fatalf("waiting caller should see the decline, got %v", out.err)
	}
	if connector.calls != 0 {
		t.Fatal("declined consent must not exchange a code")
	}
}

func TestBrokerReturnsContextCause(t *testing.T) {
	b := NewBroker(time.Minute, nil, &fakeConnector{kind: domain.SocialGoogle})
	ctx, cancel := context.WithCancelCause(context.Background())
	superseded := errors.New("superseded")

	states, results := startAuthenticate(ctx, b, domain.SocialGoogle)
	<-states
	cancel(superseded)

	out := <-results
	if !errors.Is(out.err, superseded) {
		t.Fatalf("expected cancellation cause, got %v", out.err)
	}
}

func TestBrokerRejectsUnknownProviderAndState(t *testing.T) {
	b := NewBroker(time.Minute, nil, &fakeConnector{kind: domain.SocialGoogle})

	_, err := b.Authenticate(context.Background(), domain.SocialApple, port.ConsentPresenterFunc(func(context.Context, string) error {
		t.Fatal("presenter must not run for a disabled provider")
		return nil
	}))
	if domain.ErrorCodeOf(err) != domain.CodeOperationNotFound {
		t.Fatalf("expected operation-not-allowed, got %v", err)
	}
	if b.Enabled(domain.SocialApple) || !b.Enabled(domain.SocialGoogle) {
		t.Fatal("unexpected Enabled result")
	}

	if _, err := b.Complete(context.Background(), domain.SocialGoogle, Callback{State: "nope", Code: "x"}); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
}

func TestBrokerTimesOut(t *testing.T) {
	b := NewBroker(20*time.Millisecond, nil, &fakeConnector{kind: domain.SocialGoogle})

	_, results := startAuthenticate(context.Background(), b, domain.SocialGoogle)
	out := <-results
	if domain.ErrorCodeOf(out.err) != domain.CodePopupClosedByUser {
		t.Fatalf("expected popup-closed-by-user on timeout, got %v", out.err)
	}
}

func testProvider(t *testing.T, issuer string) *oidc.Provider {
	t.Helper()
	cfg := &oidc.ProviderConfig{
		IssuerURL: issuer,
		AuthURL:   issuer + "/authorize",
		TokenURL:  issuer + "/token",
		JWKSURL:   issuer + "/keys",
	}
	return cfg.NewProvider(context.Background())
}

func TestGoogleAuthCodeURLSelectsAccount(t *testing.T) {
	c := newGoogleConnector(testProvider(t, "https://issuer.test"), config.GoogleSettings{ClientID: "client", ClientSecret: "secret"}, "https://roomie.test/callback")

	u, err := url.Parse(c.AuthCodeURL("state-1", "nonce-1"))
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("prompt") != "select_account" || q.Get("state") != "state-1" || q.Get("nonce") != "nonce-1" {
		t.Fatalf("unexpected query %v", q)
	}
	if !strings.Contains(q.Get("scope"), "email") {
		t.Fatalf("expected email scope, got %q", q.Get("scope"))
	}
}

func TestAppleAuthCodeURLUsesFormPost(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := NewAppleSecretSigner(config.AppleSettings{ClientID: "com.roomie.web", TeamID: "TEAM", KeyID: "KEY"}, key)
	c := newAppleConnector(testProvider(t, "https://issuer.test"), signer, "com.roomie.web", "https://roomie.test/callback")

	u, err := url.Parse(c.AuthCodeURL("s", "n"))
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("response_mode") != "form_post" || q.Get("scope") != "openid email name" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestAppleSecretSignerClaims(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	now := time.Now().Truncate(time.Second)
	signer := NewAppleSecretSigner(config.AppleSettings{ClientID: "com.roomie.web", TeamID: "TEAM123", KeyID: "KEY456"}, key)
	signer.now = func() time.Time { return now }

	raw, err := signer.Sign()
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}), jwt.WithAudience(appleIssuer))
	if err != nil {
		t.Fatalf("parse client secret: %v", err)
	}
	if token.Header["kid"] != "KEY456" {
		t.Fatalf("unexpected kid %v", token.Header["kid"])
	}
	if claims.Issuer != "TEAM123" || claims.Subject != "com.roomie.web" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(now.Add(appleClientSecretTTL)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestOIDCConnectorExchangeVerifiesIDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var issuer string
	idToken := func(nonce string) string {
		claims := jwt.MapClaims{
			"iss":            issuer,
			"aud":            "client",
			"sub":            "apple-user-1",
			"exp":            time.Now().Add(time.Hour).Unix(),
			"iat":            time.Now().Unix(),
			"nonce":          nonce,
			"email":          "Flat@Example.com",
			"email_verified": "true",
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign id token: %v", err)
		}
		return signed
	}

	nonce := "nonce-abc"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken(nonce),
		})
	}))
	defer server.Close()
	issuer = server.URL

	verifier := oidc.NewVerifier(issuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &oidc.Config{ClientID: "client"})
	c := newOIDCConnector(domain.SocialApple, oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: issuer + "/authorize", TokenURL: issuer + "/token"},
	}, verifier)

	cb := Callback{Code: "auth-code", User: `{"name":{"firstName":"Ada","lastName":"Lovelace"}}`}
	assertion, err := c.Exchange(context.Background(), cb, nonce)
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}
	if assertion.ProviderUserID != "apple-user-1" || assertion.Email != "flat@example.com" || !assertion.EmailVerified {
		t.Fatalf("unexpected assertion %+v", assertion)
	}
	if assertion.DisplayName != "Ada Lovelace" {
		t.Fatalf("expected name from user payload, got %q", assertion.DisplayName)
	}

	if _, err := c.Exchange(context.Background(), cb, "other-nonce"); domain.ErrorCodeOf(err) != domain.CodeInternal {
		t.Fatalf("expected nonce mismatch to fail, got %v", err)
	}
	if _, err := c.Exchange(context.Background(), Callback{Code: "bad"}, nonce); domain.ErrorCodeOf(err) != domain.CodeInvalidArgument {
		t.Fatalf("expected rejected code to map to argument error, got %v", err)
	}
}
