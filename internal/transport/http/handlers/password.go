package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PasswordGateway is the part of the identity gateway the reset endpoints use.
type PasswordGateway interface {
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, token, newPassword string) error
}

// PasswordHandler exposes the password reset endpoints.
type PasswordHandler struct {
	gateway PasswordGateway
}

func NewPasswordHandler(gateway PasswordGateway) *PasswordHandler {
	return &PasswordHandler{gateway: gateway}
}

// RegisterRoutes wires the handler into the provided router group.
func (h *PasswordHandler) RegisterRoutes(rg *gin.RouterGroup, resetMiddlewares ...gin.HandlerFunc) {
	rg.POST("/password/reset", chain(resetMiddlewares, h.RequestReset)...)
	rg.POST("/password/reset/confirm", chain(resetMiddlewares, h.ConfirmReset)...)
}

// RequestReset sends a reset link. The response is the same whether or not
// the email belongs to an account.
func (h *PasswordHandler) RequestReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	if err := h.gateway.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		RespondAuthError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "If an account exists for this email, a reset link has been sent."})
}

// ConfirmReset sets a new password using the emailed token.
func (h *PasswordHandler) ConfirmReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token and new_password are required"))
		return
	}

	if err := h.gateway.CompletePasswordReset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		RespondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Password updated."})
}
