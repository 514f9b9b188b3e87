package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/chatcore-backend/internal/http/response"
	"github.com/yungbote/chatcore-backend/internal/platform/ctxutil"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
)

var errNoChanges = errors.New("no changes requested")

func requestDB(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

// requester returns the authenticated user, or writes 401 and reports false.
func requester(c *gin.Context) (uuid.UUID, bool) {
	id := ctxutil.RequesterID(c.Request.Context())
	if id == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return uuid.Nil, false
	}
	return id, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil || id == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	if v := strings.TrimSpace(c.Query(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
