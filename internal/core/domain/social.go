package domain

import "fmt"

// SocialProvider enumerates the supported consent-screen sign-in providers.
type SocialProvider string

const (
	SocialGoogle SocialProvider = "google"
	SocialApple  SocialProvider = "apple"
)

// SocialProviders lists every supported provider in a stable order.
func SocialProviders() []SocialProvider {
	return []SocialProvider{SocialGoogle, SocialApple}
}

// ParseSocialProvider resolves a provider name from the closed set.
func ParseSocialProvider(name string) (SocialProvider, error) {
	switch SocialProvider(name) {
	case SocialGoogle, SocialApple:
		return SocialProvider(name), nil
	default:
		return "", NewAuthError(CodeOperationNotFound, fmt.Sprintf("unsupported social provider %q", name))
	}
}

// SocialAssertion is the verified fact set returned by a completed consent flow.
type SocialAssertion struct {
	Provider       SocialProvider
	ProviderUserID string
	Email          string
	EmailVerified  bool
	DisplayName    string
	PhotoURL       string
}
