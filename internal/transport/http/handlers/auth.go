package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/middleware"
	"github.com/abdulhad-eng/home-fair-share/internal/usecase"
)

const streamKeepAlive = 25 * time.Second

// AuthGateway is the part of the identity gateway the account endpoints use.
type AuthGateway interface {
	RegisterWithEmail(ctx context.Context, sid, email, password string) domain.AuthResult
	SignInWithEmail(ctx context.Context, sid, email, password string) domain.AuthResult
	ConfirmEmailLink(ctx context.Context, sid, token string) domain.AuthResult
	UpdateDisplayProfile(ctx context.Context, sid string, identity *domain.Identity, displayName, photoURL *string) error
	SignOutCurrentSession(ctx context.Context, sid string) error
	Current(ctx context.Context, sid string) (*domain.Identity, error)
	Subscribe(ctx context.Context, sid string, fn usecase.IdentityListener) (usecase.Unsubscribe, error)
}

// AuthHandler exposes the account and session endpoints.
type AuthHandler struct {
	gateway AuthGateway
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(gateway AuthGateway) *AuthHandler {
	return &AuthHandler{gateway: gateway}
}

// RegisterRoutes wires the handler into the provided router group. The
// credential middlewares run before register and sign-in only.
func (h *AuthHandler) RegisterRoutes(rg *gin.RouterGroup, credentialMiddlewares ...gin.HandlerFunc) {
	rg.POST("/register", chain(credentialMiddlewares, h.Register)...)
	rg.POST("/sign-in", chain(credentialMiddlewares, h.SignIn)...)
	rg.POST("/sign-out", h.SignOut)
	rg.GET("/identity", h.Identity)
	rg.GET("/identity/stream", h.IdentityStream)
	rg.PATCH("/profile", h.UpdateProfile)
	rg.GET("/email/verify", h.VerifyEmail)
}

// Register creates an account and signs the session in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and password are required"))
		return
	}

	res := h.gateway.RegisterWithEmail(c.Request.Context(), middleware.GetSessionID(c), req.Email, req.Password)
	respondResult(c, res, http.StatusCreated)
}

// SignIn authenticates with email and password.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email and password are required"))
		return
	}

	res := h.gateway.SignInWithEmail(c.Request.Context(), middleware.GetSessionID(c), req.Email, req.Password)
	respondResult(c, res, http.StatusOK)
}

// SignOut clears the session slot. Signing out twice is not an error.
func (h *AuthHandler) SignOut(c *gin.Context) {
	if err := h.gateway.SignOutCurrentSession(c.Request.Context(), middleware.GetSessionID(c)); err != nil {
		RespondAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Identity returns the current identity, or null.
func (h *AuthHandler) Identity(c *gin.Context) {
	identity, err := h.gateway.Current(c.Request.Context(), middleware.GetSessionID(c))
	if err != nil {
		RespondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, IdentityResponse{Identity: identity})
}

// IdentityStream sends the current identity as the first event, then one
// event per change, until the client disconnects.
func (h *AuthHandler) IdentityStream(c *gin.Context) {
	ctx := c.Request.Context()

	// latest-wins mailbox; the tracker calls the listener sequentially
	updates := make(chan *domain.Identity, 1)
	listener := func(identity *domain.Identity) {
		select {
		case updates <- identity:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- identity
		}
	}

	unsubscribe, err := h.gateway.Subscribe(ctx, middleware.GetSessionID(c), listener)
	if err != nil {
		RespondAuthError(c, err)
		return
	}
	defer unsubscribe()

	startEventStream(c)
	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case identity := <-updates:
			writeEvent(c, "identity", IdentityResponse{Identity: identity})
		case <-keepAlive.C:
			writeEvent(c, "ping", "")
		}
	}
}

// UpdateProfile changes the display name and/or photo of the signed-in user.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid profile payload"))
		return
	}

	ctx := c.Request.Context()
	sid := middleware.GetSessionID(c)
	if err := h.gateway.UpdateDisplayProfile(ctx, sid, nil, req.DisplayName, req.PhotoURL); err != nil {
		RespondAuthError(c, err)
		return
	}

	identity, err := h.gateway.Current(ctx, sid)
	if err != nil {
		RespondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, IdentityResponse{Identity: identity})
}

// VerifyEmail consumes the token from an emailed verification link.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token is required"))
		return
	}

	res := h.gateway.ConfirmEmailLink(c.Request.Context(), middleware.GetSessionID(c), token)
	respondResult(c, res, http.StatusOK)
}

func respondResult(c *gin.Context, res domain.AuthResult, okStatus int) {
	if !res.OK() {
		RespondAuthError(c, res.Error())
		return
	}
	c.JSON(okStatus, IdentityResponse{Identity: res.Identity})
}

func chain(middlewares []gin.HandlerFunc, handler gin.HandlerFunc) []gin.HandlerFunc {
	handlers := append([]gin.HandlerFunc{}, middlewares...)
	return append(handlers, handler)
}
