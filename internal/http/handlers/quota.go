package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatcore-backend/internal/http/response"
	"github.com/yungbote/chatcore-backend/internal/ratelimit"
)

type QuotaReader interface {
	Status(ctx context.Context, userID string, resource string) ratelimit.Status
}

type QuotaHandler struct {
	quota QuotaReader
}

func NewQuotaHandler(quota QuotaReader) *QuotaHandler {
	return &QuotaHandler{quota: quota}
}

// GET /api/quota/:resource
func (h *QuotaHandler) Status(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	resource := strings.TrimSpace(c.Param("resource"))
	if resource == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_resource", nil)
		return
	}
	response.RespondOK(c, gin.H{"resource": resource, "quota": h.quota.Status(c.Request.Context(), userID.String(), resource)})
}
