package security

import (
	"fmt"
	"strings"
	"unicode/utf8"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// MinPasswordLength is the shortest password the provider accepts.
const MinPasswordLength = 6

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
	Score   int
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordPolicy enforces the length floor and, when configured, a zxcvbn score floor.
type PasswordPolicy struct {
	minLength int
	minScore  int
}

// NewPasswordPolicy builds a policy. A minScore of zero disables the strength check.
func NewPasswordPolicy(minLength, minScore int) *PasswordPolicy {
	if minLength < MinPasswordLength {
		minLength = MinPasswordLength
	}
	if minScore > 4 {
		minScore = 4
	}
	return &PasswordPolicy{minLength: minLength, minScore: minScore}
}

// Validate checks password against the policy. userInputs (email, display name) are
// penalised by the strength estimator.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return fmt.Errorf("password policy not configured")
	}
	if utf8.RuneCountInString(password) < p.minLength {
		return &PasswordValidationError{
			Code:    "min_length",
			Message: fmt.Sprintf("Password should be at least %d characters", p.minLength),
		}
	}
	if strings.TrimSpace(password) == "" {
		return &PasswordValidationError{Code: "blank", Message: "Password must not be blank"}
	}
	if p.minScore <= 0 {
		return nil
	}

	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		if in != "" {
			inputs = append(inputs, in)
		}
	}
	result := zxcvbn.PasswordStrength(password, inputs)
	if result.Score < p.minScore {
		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "Password is too easy to guess",
			Score:   result.Score,
		}
	}
	return nil
}
