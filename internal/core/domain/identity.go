package domain

import "time"

// Identity is the signed-in principal as observed through the identity provider.
// Callers treat it as a snapshot; the provider owns the record.
type Identity struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	DisplayName   string    `json:"display_name,omitempty"`
	PhotoURL      string    `json:"photo_url,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	PhoneVerified bool      `json:"phone_verified"`
	Providers     []string  `json:"providers,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Clone returns a deep copy so subscribers never share slices with the tracker.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if i.Providers != nil {
		out.Providers = append([]string(nil), i.Providers...)
	}
	return &out
}

// Credential is an email and password pair submitted for sign-up or sign-in.
type Credential struct {
	Email    string
	Password string
}

// ProfileUpdate carries a partial profile change. Nil fields keep the stored value.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// Empty reports whether the update would change nothing.
func (p ProfileUpdate) Empty() bool {
	return p.DisplayName == nil && p.PhotoURL == nil
}

// User mirrors the persisted account row.
type User struct {
	ID            string
	Email         *string
	Phone         *string
	PasswordHash  string
	PasswordAlgo  string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	PhoneVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastSignInAt  *time.Time
}

// LinkedIdentity maps an external social account to a user.
type LinkedIdentity struct {
	ID             string
	UserID         string
	Provider       SocialProvider
	ProviderUserID string
	Email          string
	CreatedAt      time.Time
}

// ToIdentity projects a user row (plus linked providers) into the public identity.
func (u User) ToIdentity(providers ...string) *Identity {
	id := &Identity{
		UID:           u.ID,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		EmailVerified: u.EmailVerified,
		PhoneVerified: u.PhoneVerified,
		CreatedAt:     u.CreatedAt,
	}
	if u.Email != nil {
		id.Email = *u.Email
	}
	if u.Phone != nil {
		id.Phone = *u.Phone
	}
	if u.PasswordHash != "" {
		id.Providers = append(id.Providers, "password")
	}
	if u.Phone != nil && u.PhoneVerified {
		id.Providers = append(id.Providers, "phone")
	}
	id.Providers = append(id.Providers, providers...)
	return id
}
