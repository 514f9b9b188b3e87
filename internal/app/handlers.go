package app

import (
	"context"

	"gorm.io/gorm"

	httpH "github.com/yungbote/chatcore-backend/internal/http/handlers"
	httpMW "github.com/yungbote/chatcore-backend/internal/http/middleware"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health     *httpH.HealthHandler
	Realtime   *httpH.RealtimeHandler
	Chat       *httpH.ChatHandler
	Stream     *httpH.StreamHandler
	WebSocket  *httpH.WebSocketHandler
	Attachment *httpH.AttachmentHandler
	Quota      *httpH.QuotaHandler
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecret, cfg.JWTIssuer),
	}
}

func wireHandlers(log *logger.Logger, cfg Config, svc Services, clients *Clients) Handlers {
	log.Info("Wiring handlers...")
	stream := httpH.NewStreamHandler(log, svc.Session)
	return Handlers{
		Health:     httpH.NewHealthHandler(healthProbes(clients)),
		Realtime:   httpH.NewRealtimeHandler(log, svc.Hub),
		Chat:       httpH.NewChatHandler(svc.Chat, svc.Message, svc.Sharing, svc.Session),
		Stream:     stream,
		WebSocket:  httpH.NewWebSocketHandler(stream, cfg.AllowedOrigins),
		Attachment: httpH.NewAttachmentHandler(svc.Attachment, clients.Blob.Store),
		Quota:      httpH.NewQuotaHandler(svc.Limiter),
	}
}

func healthProbes(clients *Clients) map[string]httpH.Probe {
	probes := map[string]httpH.Probe{
		"database": dbProbe(clients.DB),
	}
	if clients.Redis != nil {
		rdb := clients.Redis
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return probes
}

func dbProbe(db *gorm.DB) httpH.Probe {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
