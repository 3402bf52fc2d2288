package social

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

const (
	appleIssuer          = "https://appleid.apple.com"
	appleClientSecretTTL = 5 * time.Minute
)

// AppleSecretSigner mints the short-lived ES256 JWT Apple accepts as client secret.
type AppleSecretSigner struct {
	teamID   string
	clientID string
	keyID    string
	key      *ecdsa.PrivateKey
	now      func() time.Time
}

func NewAppleSecretSigner(cfg config.AppleSettings, key *ecdsa.PrivateKey) *AppleSecretSigner {
	return &AppleSecretSigner{
		teamID:   cfg.TeamID,
		clientID: cfg.ClientID,
		keyID:    cfg.KeyID,
		key:      key,
		now:      time.Now,
	}
}

// Sign returns a freshly signed client secret.
func (s *AppleSecretSigner) Sign() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.teamID,
		Subject:   s.clientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appleClientSecretTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign apple client secret: %w", err)
	}
	return signed, nil
}

// LoadApplePrivateKey reads the PKCS#8 .p8 key downloaded from the Apple developer portal.
func LoadApplePrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read apple private key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse apple private key: %w", err)
	}
	return key, nil
}

// NewApple discovers Apple's endpoints and returns a connector using the
// form_post response mode with the name and email scopes.
func NewApple(ctx context.Context, cfg config.AppleSettings, redirectURL string) (*OIDCConnector, error) {
	if cfg.ClientID == "" || cfg.TeamID == "" || cfg.KeyID == "" || cfg.PrivateKeyPath == "" || redirectURL == "" {
		return nil, errors.New("apple sign-in config missing required fields")
	}
	key, err := LoadApplePrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	provider, err := oidc.NewProvider(ctx, appleIssuer)
	if err != nil {
		return nil, fmt.Errorf("init apple oidc provider: %w", err)
	}
	return newAppleConnector(provider, NewAppleSecretSigner(cfg, key), cfg.ClientID, redirectURL), nil
}

func newAppleConnector(provider *oidc.Provider, signer *AppleSecretSigner, clientID, redirectURL string) *OIDCConnector {
	oauthCfg := oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    provider.Endpoint(),
		Scopes:      []string{oidc.ScopeOpenID, "email", "name"},
	}
	oauthCfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	c := newOIDCConnector(domain.SocialApple, oauthCfg, verifier,
		oauth2.SetAuthURLParam("response_mode", "form_post"),
	)
	c.clientSecret = signer.Sign
	return c
}
