package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatcore-backend/internal/http/response"
	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/services"
)

type AttachmentHandler struct {
	attachments services.AttachmentService
	store       blob.Store
}

func NewAttachmentHandler(attachments services.AttachmentService, store blob.Store) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments, store: store}
}

// POST /api/attachments (multipart field "file")
func (h *AttachmentHandler) Upload(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	defer f.Close()

	att, err := h.attachments.Upload(requestDB(c), services.UploadInput{
		OwnerID:     userID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"attachment": att})
}

// GET /blobs/*key serves objects for the local and memory stores. Keys are
// unguessable, so the route is public like a bucket URL.
func (h *AttachmentHandler) ServeBlob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" || strings.Contains(key, "..") {
		c.Status(http.StatusNotFound)
		return
	}
	rc, err := h.store.Open(c.Request.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		response.RespondError(c, http.StatusServiceUnavailable, "store_unavailable", err)
		return
	}
	defer rc.Close()

	ct := blob.ContentTypeForKey(key)
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Content-Type", ct)
	c.Header("Cache-Control", "private, max-age=3600")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}
