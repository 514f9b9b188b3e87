package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	httpserver "github.com/yungbote/chatcore-backend/internal/http"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
	"github.com/yungbote/chatcore-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *httpserver.Server
	Cfg      Config
	Clients  *Clients
	Repos    Repos
	Services Services
	cancel   context.CancelFunc
}

func New(ctx context.Context, cfg Config, log *logger.Logger) (*App, error) {
	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	reposet := wireRepos(clients.DB, log)
	serviceset, err := wireServices(log, cfg, reposet, clients)
	if err != nil {
		clients.Close(ctx)
		return nil, err
	}

	handlerset := wireHandlers(log, cfg, serviceset, clients)
	middleware := wireMiddleware(log, cfg)
	server := httpserver.NewServer(cfg.Address(), httpserver.RouterConfig{
		Log:               log,
		ServiceName:       cfg.ServiceName,
		AllowedOrigins:    cfg.AllowedOrigins,
		AuthMiddleware:    middleware.Auth,
		HealthHandler:     handlerset.Health,
		RealtimeHandler:   handlerset.Realtime,
		ChatHandler:       handlerset.Chat,
		StreamHandler:     handlerset.Stream,
		WebSocketHandler:  handlerset.WebSocket,
		AttachmentHandler: handlerset.Attachment,
		QuotaHandler:      handlerset.Quota,
		ServeBlobs:        clients.Blob.ServeBlobs,
	})

	return &App{
		Log:      log,
		DB:       clients.DB,
		Server:   server,
		Cfg:      cfg,
		Clients:  clients,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Start launches background work: the realtime forwarder, and either the
// Temporal worker or the in-process sweeper.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	hub := a.Services.Hub
	if err := a.Services.SSEBus.StartForwarder(ctx, func(m realtime.SSEMessage) { hub.Broadcast(m) }); err != nil {
		return fmt.Errorf("start realtime forwarder: %w", err)
	}
	if a.Services.Sweeper != nil {
		a.Services.Sweeper.Start(ctx)
	}
	if a.Services.TemporalWorker != nil {
		if err := a.Services.TemporalWorker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then drains connections within
// SHUTDOWN_TIMEOUT.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "address", a.Cfg.Address())
		return a.Server.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
	defer cancel()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.TemporalWorker != nil {
		a.Services.TemporalWorker.Stop()
	}
	if a.Services.LocalJobs != nil {
		if err := a.Services.LocalJobs.Close(ctx); err != nil {
			a.Log.Warn("local jobs did not drain", "error", err)
		}
	}
	if a.Services.SSEBus != nil {
		_ = a.Services.SSEBus.Close()
	}
	a.Clients.Close(ctx)
	if a.Log != nil {
		a.Log.Sync()
	}
}
