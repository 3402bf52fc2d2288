package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// OIDCConnector exchanges authorization codes and verifies the returned ID token.
type OIDCConnector struct {
	provider   domain.SocialProvider
	oauth      oauth2.Config
	verifier   *oidc.IDTokenVerifier
	authParams []oauth2.AuthCodeOption
	// clientSecret, when set, mints the client secret for every exchange.
	clientSecret func() (string, error)
}

var _ Connector = (*OIDCConnector)(nil)

func newOIDCConnector(kind domain.SocialProvider, cfg oauth2.Config, verifier *oidc.IDTokenVerifier, params ...oauth2.AuthCodeOption) *OIDCConnector {
	return &OIDCConnector{
		provider:   kind,
		oauth:      cfg,
		verifier:   verifier,
		authParams: params,
	}
}

func (c *OIDCConnector) Provider() domain.SocialProvider {
	return c.provider
}

// AuthCodeURL builds the consent URL carrying state and nonce.
func (c *OIDCConnector) AuthCodeURL(state, nonce string) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(c.authParams)+2)
	opts = append(opts, oauth2.AccessTypeOnline, oidc.Nonce(nonce))
	opts = append(opts, c.authParams...)
	return c.oauth.AuthCodeURL(state, opts...)
}

type idTokenClaims struct {
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
}

// Exchange trades the code for tokens and returns the verified assertion.
func (c *OIDCConnector) Exchange(ctx context.Context, cb Callback, nonce string) (*domain.SocialAssertion, error) {
	cfg := c.oauth
	if c.clientSecret != nil {
		secret, err := c.clientSecret()
		if err != nil {
			return nil, domain.WrapAuthError(domain.CodeInternal, "mint client secret", err)
		}
		cfg.ClientSecret = secret
	}

	token, err := cfg.Exchange(ctx, cb.Code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, domain.WrapAuthError(domain.CodeInvalidArgument, fmt.Sprintf("%s rejected the authorization code", c.provider), err)
		}
		return nil, domain.WrapAuthError(domain.CodeNetworkFailed, fmt.Sprintf("%s token exchange failed", c.provider), err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, domain.NewAuthError(domain.CodeInternal, fmt.Sprintf("%s did not return an id_token", c.provider))
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, domain.WrapAuthError(domain.CodeInternal, fmt.Sprintf("%s id_token verification failed", c.provider), err)
	}
	if idToken.Nonce != nonce {
		return nil, domain.NewAuthError(domain.CodeInternal, fmt.Sprintf("%s id_token nonce mismatch", c.provider))
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, domain.WrapAuthError(domain.CodeInternal, fmt.Sprintf("%s id_token claims", c.provider), err)
	}
	if claims.Subject == "" {
		return nil, domain.NewAuthError(domain.CodeInternal, fmt.Sprintf("%s id_token missing subject", c.provider))
	}

	assertion := &domain.SocialAssertion{
		Provider:       c.provider,
		ProviderUserID: claims.Subject,
		Email:          strings.ToLower(strings.TrimSpace(claims.Email)),
		EmailVerified:  bool(claims.EmailVerified),
		DisplayName:    claims.Name,
		PhotoURL:       claims.Picture,
	}
	if assertion.DisplayName == "" && cb.User != "" {
		assertion.DisplayName = appleUserName(cb.User)
	}
	return assertion, nil
}

// flexBool accepts both JSON booleans and the "true"/"false" strings Apple sends.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true":
		*b = true
	case "false", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// appleUserName extracts "first last" from Apple's user form field.
func appleUserName(raw string) string {
	var user struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return ""
	}
	return strings.TrimSpace(user.Name.FirstName + " " + user.Name.LastName)
}
