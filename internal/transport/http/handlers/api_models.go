package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// CredentialRequest is the payload for email registration and sign-in.
type CredentialRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// IdentityResponse wraps the signed-in identity, or null when signed out.
type IdentityResponse struct {
	Identity *domain.Identity `json:"identity"`
}

// ProfileRequest carries a partial profile update. Omitted or blank fields are kept.
type ProfileRequest struct {
	DisplayName *string `json:"display_name"`
	PhotoURL    *string `json:"photo_url"`
}

// ChallengeRequest asks for an anti-automation challenge bound to anchor.
type ChallengeRequest struct {
	Anchor string `json:"anchor" binding:"required"`
}

// StartVerificationRequest creates a verification flow and dispatches its first code.
type StartVerificationRequest struct {
	Method  string `json:"method" binding:"required"`
	Contact string `json:"contact" binding:"required"`
	Anchor  string `json:"anchor"`
}

// SubmitCodeRequest carries the code typed by the user.
type SubmitCodeRequest struct {
	Code string `json:"code"`
}

// PasswordResetRequest asks for a reset link.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// PasswordResetConfirmRequest completes a reset with the emailed token.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// HealthResponse describes service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the state of every dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
