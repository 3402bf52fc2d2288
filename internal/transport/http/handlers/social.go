package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/provider/social"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/middleware"
)

// SocialGateway starts a consent sign-in.
type SocialGateway interface {
	SignInWithSocialProvider(ctx context.Context, sid, kind string, presenter port.ConsentPresenter) domain.AuthResult
}

// ConsentCompleter accepts the provider redirect that ends a consent flow.
type ConsentCompleter interface {
	Complete(ctx context.Context, kind domain.SocialProvider, cb social.Callback) (*domain.SocialAssertion, error)
}

// ConsentEvent is the first event of a social sign-in stream.
type ConsentEvent struct {
	URL string `json:"url"`
}

// SocialResultEvent is the last event of a social sign-in stream.
type SocialResultEvent struct {
	Identity *domain.Identity `json:"identity,omitempty"`
	Error    *ErrorResponse   `json:"error,omitempty"`
}

// SocialHandler exposes Google and Apple sign-in.
type SocialHandler struct {
	gateway   SocialGateway
	completer ConsentCompleter
}

// NewSocialHandler constructs SocialHandler.
func NewSocialHandler(gateway SocialGateway, completer ConsentCompleter) *SocialHandler {
	return &SocialHandler{gateway: gateway, completer: completer}
}

// RegisterRoutes wires the handler into the provided router group.
func (h *SocialHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/social/:provider", h.SignIn)
	rg.GET("/social/:provider/callback", h.Callback)
	rg.POST("/social/:provider/callback", h.Callback)
}

// SignIn streams a "consent" event carrying the URL the client must open in a
// separate window, then a "result" event once the consent completes. Closing
// the stream abandons the attempt.
func (h *SocialHandler) SignIn(c *gin.Context) {
	kind := c.Param("provider")
	if _, err := domain.ParseSocialProvider(kind); err != nil {
		RespondAuthError(c, err)
		return
	}

	startEventStream(c)
	presenter := port.ConsentPresenterFunc(func(ctx context.Context, url string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		writeEvent(c, "consent", ConsentEvent{URL: url})
		return nil
	})

	res := h.gateway.SignInWithSocialProvider(c.Request.Context(), middleware.GetSessionID(c), kind, presenter)
	if c.Request.Context().Err() != nil {
		return
	}
	if !res.OK() {
		resp := authErrorResponse(c, res.Error())
		writeEvent(c, "result", SocialResultEvent{Error: &resp})
		return
	}
	writeEvent(c, "result", SocialResultEvent{Identity: res.Identity})
}

// Callback receives the provider redirect. Apple posts a form; Google uses the query.
func (h *SocialHandler) Callback(c *gin.Context) {
	kind, err := domain.ParseSocialProvider(c.Param("provider"))
	if err != nil {
		RespondAuthError(c, err)
		return
	}

	param := func(key string) string {
		if v, ok := c.GetPostForm(key); ok {
			return v
		}
		return c.Query(key)
	}
	cb := social.Callback{
		State:            param("state"),
		Code:             param("code"),
		Error:            param("error"),
		ErrorDescription: param("error_description"),
		User:             param("user"),
	}

	_, err = h.completer.Complete(c.Request.Context(), kind, cb)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, MessageResponse{Message: "Sign-in complete. You can close this window."})
	case errors.Is(err, social.ErrUnknownState):
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "sign-in request expired or already completed"))
	case errors.Is(err, social.ErrProviderMismatch):
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "callback does not match the sign-in request"))
	default:
		RespondAuthError(c, err)
	}
}
