package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is a provider error code. The set recognised by DescribeError is closed;
// providers may report others, which fall back to their raw message.
type ErrorCode string

const (
	CodeUserNotFound       ErrorCode = "auth/user-not-found"
	CodeWrongPassword      ErrorCode = "auth/wrong-password"
	CodeEmailAlreadyInUse  ErrorCode = "auth/email-already-in-use"
	CodeWeakPassword       ErrorCode = "auth/weak-password"
	CodeInvalidEmail       ErrorCode = "auth/invalid-email"
	CodeTooManyRequests    ErrorCode = "auth/too-many-requests"
	CodePopupClosedByUser  ErrorCode = "auth/popup-closed-by-user"
	CodeCancelledPopup     ErrorCode = "auth/cancelled-popup-request"
	CodeInvalidCode        ErrorCode = "auth/invalid-verification-code"
	CodeInvalidPhoneNumber ErrorCode = "auth/invalid-phone-number"

	// Codes outside the described set. They still carry provider messages.
	CodeCodeExpired       ErrorCode = "auth/code-expired"
	CodeCaptchaFailed     ErrorCode = "auth/captcha-check-failed"
	CodeInvalidArgument   ErrorCode = "auth/argument-error"
	CodeOperationNotFound ErrorCode = "auth/operation-not-allowed"
	CodeNetworkFailed     ErrorCode = "auth/network-request-failed"
	CodeInternal          ErrorCode = "auth/internal-error"
)

const defaultErrorMessage = "An error occurred during authentication."

var describedCodes = map[ErrorCode]string{
	CodeUserNotFound:       "No account found with this email address.",
	CodeWrongPassword:      "Incorrect password. Please try again.",
	CodeEmailAlreadyInUse:  "An account with this email already exists.",
	CodeWeakPassword:       "Password should be at least 6 characters long.",
	CodeInvalidEmail:       "Please enter a valid email address.",
	CodeTooManyRequests:    "Too many failed attempts. Please try again later.",
	CodePopupClosedByUser:  "Sign-in popup was closed. Please try again.",
	CodeCancelledPopup:     "Sign-in was cancelled. Please try again.",
	CodeInvalidCode:        "Invalid verification code. Please try again.",
	CodeInvalidPhoneNumber: "Invalid phone number format.",
}

// AuthError is the only failure type that crosses the gateway boundary.
type AuthError struct {
	Code    ErrorCode
	Message string
	// Retryable marks transport and rate-limit failures the caller may retry as-is.
	Retryable bool
	cause     error
}

// NewAuthError builds a provider error with the given code and raw message.
func NewAuthError(code ErrorCode, message string) *AuthError {
	return &AuthError{Code: code, Message: message, Retryable: code == CodeTooManyRequests || code == CodeNetworkFailed}
}

// WrapAuthError attaches an underlying cause, kept for logs and errors.Is.
func WrapAuthError(code ErrorCode, message string, cause error) *AuthError {
	e := NewAuthError(code, message)
	e.cause = cause
	return e
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.cause
}

// Is matches another *AuthError by code, so sentinel-style comparisons work.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// AsAuthError extracts an *AuthError from err. Any other error becomes an internal-error
// AuthError carrying err's text, so callers always get a code.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	return WrapAuthError(CodeInternal, err.Error(), err)
}

// ErrorCodeOf returns the provider code carried by err, or "" for nil.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsAuthError(err).Code
}

// DescribeError maps a provider error to a user-facing sentence. It never returns "".
func DescribeError(err error) string {
	if err == nil {
		return defaultErrorMessage
	}
	authErr := AsAuthError(err)
	if msg, ok := describedCodes[authErr.Code]; ok {
		return msg
	}
	if authErr.Message != "" {
		return authErr.Message
	}
	return defaultErrorMessage
}
