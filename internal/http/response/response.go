package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// Quota fields are set only for quota_exceeded.
	Remaining *int       `json:"remaining,omitempty"`
	Limit     *int       `json:"limit,omitempty"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError maps err onto its taxonomy status. Anything that is not an
// *apierr.Error is reported as an opaque 500.
func RespondAPIError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), EnvelopeFor(err))
}

func StatusFor(err error) int {
	if e, ok := apierr.As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func EnvelopeFor(err error) ErrorEnvelope {
	e, ok := apierr.As(err)
	if !ok {
		return ErrorEnvelope{Error: APIError{Message: "internal error", Code: "internal_error"}}
	}
	out := APIError{Message: e.Error(), Code: e.Code}
	if q := e.Quota; q != nil {
		remaining, limit, reset := q.Remaining, q.Limit, q.ResetAt.UTC()
		out.Remaining, out.Limit, out.ResetAt = &remaining, &limit, &reset
	}
	return ErrorEnvelope{Error: out}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
