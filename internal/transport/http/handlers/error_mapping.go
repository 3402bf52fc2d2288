package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or
// falls back to the auth error mapping.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	RespondAuthError(c, err)
}

var authStatus = map[domain.ErrorCode]int{
	domain.CodeUserNotFound:       http.StatusUnauthorized,
	domain.CodeWrongPassword:      http.StatusUnauthorized,
	domain.CodeEmailAlreadyInUse:  http.StatusConflict,
	domain.CodeWeakPassword:       http.StatusUnprocessableEntity,
	domain.CodeInvalidEmail:       http.StatusBadRequest,
	domain.CodeTooManyRequests:    http.StatusTooManyRequests,
	domain.CodePopupClosedByUser:  http.StatusConflict,
	domain.CodeCancelledPopup:     http.StatusConflict,
	domain.CodeInvalidCode:        http.StatusUnprocessableEntity,
	domain.CodeInvalidPhoneNumber: http.StatusBadRequest,
	domain.CodeCodeExpired:        http.StatusGone,
	domain.CodeCaptchaFailed:      http.StatusForbidden,
	domain.CodeInvalidArgument:    http.StatusBadRequest,
	domain.CodeOperationNotFound:  http.StatusNotFound,
	domain.CodeNetworkFailed:      http.StatusServiceUnavailable,
	domain.CodeInternal:           http.StatusInternalServerError,
}

// StatusForError returns the HTTP status for err.
func StatusForError(err error) int {
	if errors.Is(err, domain.ErrInvalidCodeFormat) {
		return http.StatusBadRequest
	}
	if status, ok := authStatus[domain.ErrorCodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondAuthError writes err as an ErrorResponse carrying the user-facing sentence.
func RespondAuthError(c *gin.Context, err error) {
	c.JSON(StatusForError(err), authErrorResponse(c, err))
}

func authErrorResponse(c *gin.Context, err error) ErrorResponse {
	resp := NewErrorResponse(c, domain.DescribeError(err))
	if errors.Is(err, domain.ErrInvalidCodeFormat) {
		resp.Error = err.Error()
		resp.Code = string(domain.CodeInvalidArgument)
		return resp
	}
	if authErr := domain.AsAuthError(err); authErr != nil {
		resp.Code = string(authErr.Code)
		resp.Retryable = authErr.Retryable
		if authErr.Code == domain.CodeInternal {
			resp.Error = domain.DescribeError(nil)
		}
	}
	return resp
}
