package domain

import "time"

// EmailVerificationRequestedEvent asks the mailer to deliver an email verification link.
type EmailVerificationRequestedEvent struct {
	EventID     string
	UserID      string
	Email       string
	Token       string
	RequestedAt time.Time
	ExpiresAt   time.Time
}

// SMSCodeRequestedEvent asks the SMS gateway to deliver a verification code.
type SMSCodeRequestedEvent struct {
	EventID     string
	PendingID   string
	Phone       string
	Code        string
	RequestedAt time.Time
	ExpiresAt   time.Time
}

// PasswordResetRequestedEvent asks the mailer to deliver a password reset link.
type PasswordResetRequestedEvent struct {
	EventID     string
	UserID      string
	Email       string
	Token       string
	RequestedAt time.Time
	ExpiresAt   time.Time
}

// IdentityChangedEvent records a change of the signed-in identity for a session slot.
type IdentityChangedEvent struct {
	EventID   string
	SessionID string
	UserID    string
	SignedIn  bool
	ChangedAt time.Time
	// Origin identifies the process that applied the change.
	Origin    string
}
