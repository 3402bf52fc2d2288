package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

const googleIssuer = "https://accounts.google.com"

// NewGoogle discovers Google's endpoints and returns a connector that always
// shows the account chooser.
func NewGoogle(ctx context.Context, cfg config.GoogleSettings, redirectURL string) (*OIDCConnector, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || redirectURL == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("init google oidc provider: %w", err)
	}
	return newGoogleConnector(provider, cfg, redirectURL), nil
}

func newGoogleConnector(provider *oidc.Provider, cfg config.GoogleSettings, redirectURL string) *OIDCConnector {
	oauthCfg := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newOIDCConnector(domain.SocialGoogle, oauthCfg, verifier,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}
