package domain

import (
	"errors"
	"time"
)

// CodeLength is the fixed length of phone verification codes.
const CodeLength = 6

// ErrInvalidCodeFormat is returned for codes that are not exactly six ASCII digits.
var ErrInvalidCodeFormat = errors.New("verification code must be exactly 6 digits")

// ContactMethod selects how a user proves ownership of a contact value.
type ContactMethod string

const (
	ContactEmail ContactMethod = "email"
	ContactPhone ContactMethod = "phone"
)

// Valid reports whether the method is one of the supported values.
func (m ContactMethod) Valid() bool {
	return m == ContactEmail || m == ContactPhone
}

// PendingVerification is the opaque, single-use handle returned after a code is dispatched.
type PendingVerification struct {
	ID        string    `json:"id"`
	Contact   string    `json:"contact"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingCode is the server-side record behind a PendingVerification.
type PendingCode struct {
	ID        string
	Contact   string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Handle returns the public part of the record.
func (p PendingCode) Handle() PendingVerification {
	return PendingVerification{ID: p.ID, Contact: p.Contact, CreatedAt: p.CreatedAt, ExpiresAt: p.ExpiresAt}
}

// Challenge is an anti-automation token bound to the UI anchor it was issued for.
type Challenge struct {
	Token    string    `json:"token"`
	Anchor   string    `json:"anchor"`
	IssuedAt time.Time `json:"issued_at"`
}

// ValidateCode checks the format of a verification code without judging correctness.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrInvalidCodeFormat
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return ErrInvalidCodeFormat
		}
	}
	return nil
}
