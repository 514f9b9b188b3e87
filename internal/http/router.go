package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/chatcore-backend/internal/http/handlers"
	httpMW "github.com/yungbote/chatcore-backend/internal/http/middleware"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler     *httpH.HealthHandler
	RealtimeHandler   *httpH.RealtimeHandler
	ChatHandler       *httpH.ChatHandler
	StreamHandler     *httpH.StreamHandler
	WebSocketHandler  *httpH.WebSocketHandler
	AttachmentHandler *httpH.AttachmentHandler
	QuotaHandler      *httpH.QuotaHandler
	// ServeBlobs mounts GET /blobs/*key for the local and memory stores.
	ServeBlobs bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.ServeBlobs && cfg.AttachmentHandler != nil {
		r.GET("/blobs/*key", cfg.AttachmentHandler.ServeBlob)
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}
	{
		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/events", cfg.RealtimeHandler.Events)
		}

		// Chats
		if cfg.ChatHandler != nil {
			api.POST("/chats", cfg.ChatHandler.CreateChat)
			api.GET("/chats", cfg.ChatHandler.ListChats)
			api.GET("/chats/:id", cfg.ChatHandler.GetChat)
			api.PATCH("/chats/:id", cfg.ChatHandler.PatchChat)
			api.DELETE("/chats/:id", cfg.ChatHandler.DeleteChat)
			api.GET("/chats/:id/messages", cfg.ChatHandler.ListMessages)
			api.POST("/chats/:id/truncate", cfg.ChatHandler.Truncate)
			api.POST("/chats/:id/fork", cfg.ChatHandler.Fork)
			api.GET("/chats/:id/verify-share", cfg.ChatHandler.VerifyShare)
			api.GET("/chats/:id/session", cfg.ChatHandler.Session)
			api.DELETE("/me/data", cfg.ChatHandler.DeleteMyData)
		}

		// Turns
		if cfg.StreamHandler != nil {
			api.POST("/chats/:id/stream", cfg.StreamHandler.Submit)
			api.POST("/chats/:id/reload", cfg.StreamHandler.Reload)
		}
		if cfg.WebSocketHandler != nil {
			api.GET("/chats/:id/stream/ws", cfg.WebSocketHandler.Serve)
		}

		if cfg.AttachmentHandler != nil {
			api.POST("/attachments", cfg.AttachmentHandler.Upload)
		}
		if cfg.QuotaHandler != nil {
			api.GET("/quota/:resource", cfg.QuotaHandler.Status)
		}
	}

	return r
}
