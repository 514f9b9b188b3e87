package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/chatcore-backend/internal/http/response"
	"github.com/yungbote/chatcore-backend/internal/services"
)

type ChatHandler struct {
	chats    services.ChatService
	messages services.MessageService
	sharing  services.SharingService
	sessions services.SessionService
}

func NewChatHandler(chats services.ChatService, messages services.MessageService, sharing services.SharingService, sessions services.SessionService) *ChatHandler {
	return &ChatHandler{chats: chats, messages: messages, sharing: sharing, sessions: sessions}
}

type createChatReq struct {
	Title string `json:"title"`
}

// POST /api/chats
func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	var req createChatReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	chat, err := h.chats.CreateChat(requestDB(c), userID, req.Title)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"chat": chat})
}

// GET /api/chats?limit=50
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chats, err := h.chats.ListChats(requestDB(c), userID, queryInt(c, "limit", 50))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chats": chats})
}

// GET /api/chats/:id
func (h *ChatHandler) GetChat(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	chat, err := h.chats.GetChat(requestDB(c), chatID, userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chat": chat})
}

type patchChatReq struct {
	Title    *string `json:"title"`
	IsPinned *bool   `json:"is_pinned"`
	IsShared *bool   `json:"is_shared"`
}

// PATCH /api/chats/:id
func (h *ChatHandler) PatchChat(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req patchChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Title == nil && req.IsPinned == nil && req.IsShared == nil {
		response.RespondError(c, http.StatusBadRequest, "validation_error", errNoChanges)
		return
	}
	dbc := requestDB(c)
	var (
		chat any
		err  error
	)
	if req.Title != nil || req.IsPinned != nil {
		chat, err = h.chats.UpdateChat(dbc, chatID, userID, services.ChatPatch{Title: req.Title, IsPinned: req.IsPinned})
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}
	if req.IsShared != nil {
		chat, err = h.sharing.ShareChat(dbc, chatID, userID, *req.IsShared)
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}
	response.RespondOK(c, gin.H{"chat": chat})
}

// DELETE /api/chats/:id
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.chats.DeleteChat(requestDB(c), chatID, userID); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/chats/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	msgs, err := h.messages.ListMessages(requestDB(c), chatID, userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"messages": msgs})
}

type truncateReq struct {
	AfterMessageID uuid.UUID `json:"after_message_id" binding:"required"`
	ForkFirst      bool      `json:"fork_first"`
}

// POST /api/chats/:id/truncate
func (h *ChatHandler) Truncate(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req truncateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.sessions.EditAndTruncate(c.Request.Context(), services.TruncateInput{
		ChatID:         chatID,
		OwnerID:        userID,
		AfterMessageID: req.AfterMessageID,
		ForkFirst:      req.ForkFirst,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

type forkReq struct {
	UpToMessageID *uuid.UUID `json:"up_to_message_id"`
}

// POST /api/chats/:id/fork
func (h *ChatHandler) Fork(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req forkReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	fork, err := h.sharing.ForkChat(requestDB(c), services.ForkInput{
		SourceChatID:  chatID,
		NewOwnerID:    userID,
		UpToMessageID: req.UpToMessageID,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"chat": fork})
}

// GET /api/chats/:id/verify-share
func (h *ChatHandler) VerifyShare(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	res, err := h.sharing.VerifySharedChat(requestDB(c), chatID, userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/chats/:id/session
func (h *ChatHandler) Session(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	chatID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	snap, err := h.sessions.Snapshot(c.Request.Context(), chatID, userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": snap})
}

// DELETE /api/me/data
func (h *ChatHandler) DeleteMyData(c *gin.Context) {
	userID, ok := requester(c)
	if !ok {
		return
	}
	n, err := h.chats.DeleteOwnerData(requestDB(c), userID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted_chats": n})
}
