package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ops-portal/internal/api/http"
	"github.com/spec-kit/ops-portal/internal/api/http/handlers"
	"github.com/spec-kit/ops-portal/internal/app"
	"github.com/spec-kit/ops-portal/internal/auth"
	"github.com/spec-kit/ops-portal/internal/config"
	"github.com/spec-kit/ops-portal/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	portal, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer portal.Close()

	var redisPinger handlers.Pinger
	if portal.Redis != nil {
		redisPinger = portal.Redis
	}

	server := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(server, logger, portal.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, portal.Postgres, redisPinger),
		Requests:       handlers.NewRequestsHandler(portal.Requests, portal.Views),
		Tickets:        handlers.NewTicketsHandler(portal.Tickets, portal.Views),
		Metrics:        portal.Metrics,
		AuthMiddleware: auth.NewAuthMiddleware(portal.Tokens, portal.Directory),
	})

	go func() {
		if err := server.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = server.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
