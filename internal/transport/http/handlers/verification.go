package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/middleware"
	"github.com/abdulhad-eng/home-fair-share/internal/verification"
)

// ChallengeIssuer issues anti-automation challenges.
type ChallengeIssuer interface {
	IssueChallenge(ctx context.Context, anchor string) (domain.Challenge, error)
}

// FlowResponse is a flow view with the error of the call that produced it, if any.
type FlowResponse struct {
	Flow  verification.Snapshot `json:"flow"`
	Error *ErrorResponse        `json:"error,omitempty"`
}

var flowErrorCases = []ErrorCase{
	{Err: verification.ErrBusy, Status: http.StatusConflict, Message: "another request for this verification is in progress"},
	{Err: verification.ErrClosed, Status: http.StatusGone, Message: "verification was abandoned"},
	{Err: verification.ErrAlreadyStarted, Status: http.StatusConflict, Message: "verification already started"},
	{Err: verification.ErrNotStarted, Status: http.StatusConflict, Message: "verification has not started"},
	{Err: verification.ErrNoPendingCode, Status: http.StatusConflict, Message: "no code has been sent; request a new one"},
	{Err: verification.ErrAlreadyVerified, Status: http.StatusConflict, Message: "contact already verified"},
	{Err: verification.ErrUnknownMethod, Status: http.StatusBadRequest, Message: "method must be email or phone"},
	{Err: verification.ErrContactMissing, Status: http.StatusBadRequest, Message: "contact is required"},
	{Err: domain.ErrInvalidCodeFormat, Status: http.StatusBadRequest, Message: domain.ErrInvalidCodeFormat.Error()},
}

// VerificationHandler exposes the contact verification flows.
type VerificationHandler struct {
	challenges ChallengeIssuer
	flows      *verification.Registry
	logger     *zap.Logger
}

// NewVerificationHandler constructs VerificationHandler.
func NewVerificationHandler(challenges ChallengeIssuer, flows *verification.Registry, logger *zap.Logger) *VerificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationHandler{challenges: challenges, flows: flows, logger: logger}
}

// RegisterRoutes wires the handler into the provided router group. The
// dispatch middlewares guard every call that may send a code.
func (h *VerificationHandler) RegisterRoutes(rg *gin.RouterGroup, dispatchMiddlewares ...gin.HandlerFunc) {
	rg.POST("/challenges", h.IssueChallenge)
	rg.POST("/verifications", chain(dispatchMiddlewares, h.Start)...)
	rg.GET("/verifications/:id", h.Get)
	rg.POST("/verifications/:id/code", h.Submit)
	rg.POST("/verifications/:id/resend", chain(dispatchMiddlewares, h.Resend)...)
	rg.DELETE("/verifications/:id", h.Back)
}

// IssueChallenge returns a single-use challenge bound to the requested anchor.
func (h *VerificationHandler) IssueChallenge(c *gin.Context) {
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "anchor is required"))
		return
	}

	challenge, err := h.challenges.IssueChallenge(c.Request.Context(), req.Anchor)
	if err != nil {
		RespondAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, challenge)
}

// Start creates a flow and dispatches its first code.
func (h *VerificationHandler) Start(c *gin.Context) {
	var req StartVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "method and contact are required"))
		return
	}

	method, err := verification.ContactMethodOf(req.Method)
	if err != nil {
		RespondWithMappedError(c, err, flowErrorCases)
		return
	}

	sid := middleware.GetSessionID(c)
	flowLog := h.logger.With(zap.String("session_id", sid))
	flow, err := h.flows.Create(verification.Config{
		Method:    method,
		Contact:   req.Contact,
		SessionID: sid,
		Anchor:    req.Anchor,
	}, verification.Callbacks{
		OnVerify: func(identity *domain.Identity) {
			if identity != nil {
				flowLog.Info("phone verification signed session in", zap.String("uid", identity.UID))
			}
		},
	})
	if err != nil {
		RespondWithMappedError(c, err, flowErrorCases)
		return
	}

	h.respondFlow(c, flow, flow.Start(c.Request.Context()), http.StatusCreated)
}

// Get returns the flow state.
func (h *VerificationHandler) Get(c *gin.Context) {
	flow, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, FlowResponse{Flow: flow.Snapshot()})
}

// Submit confirms the typed code.
func (h *VerificationHandler) Submit(c *gin.Context) {
	flow, ok := h.lookup(c)
	if !ok {
		return
	}

	var req SubmitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return
	}

	h.respondFlow(c, flow, flow.Submit(c.Request.Context(), req.Code), http.StatusOK)
}

// Resend dispatches a fresh code.
func (h *VerificationHandler) Resend(c *gin.Context) {
	flow, ok := h.lookup(c)
	if !ok {
		return
	}
	h.respondFlow(c, flow, flow.Resend(c.Request.Context()), http.StatusOK)
}

// Back abandons the flow.
func (h *VerificationHandler) Back(c *gin.Context) {
	flow, ok := h.lookup(c)
	if !ok {
		return
	}
	h.flows.Remove(flow.ID())
	c.Status(http.StatusNoContent)
}

func (h *VerificationHandler) lookup(c *gin.Context) (*verification.Flow, bool) {
	flow, ok := h.flows.Get(c.Param("id"))
	if !ok || flow.SessionID() != middleware.GetSessionID(c) {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "verification not found"))
		return nil, false
	}
	return flow, true
}

func (h *VerificationHandler) respondFlow(c *gin.Context, flow *verification.Flow, err error, okStatus int) {
	if err == nil {
		c.JSON(okStatus, FlowResponse{Flow: flow.Snapshot()})
		return
	}

	status := StatusForError(err)
	resp := authErrorResponse(c, err)
	for _, cs := range flowErrorCases {
		if errors.Is(err, cs.Err) {
			status = cs.Status
			resp = NewErrorResponse(c, cs.Message)
			break
		}
	}
	c.JSON(status, FlowResponse{Flow: flow.Snapshot(), Error: &resp})
}
