// Package app assembles the lifecycle engines and their collaborators from
// configuration. Both the HTTP server and the operator CLI start here.
package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/auth"
	"github.com/spec-kit/ops-portal/internal/cache"
	"github.com/spec-kit/ops-portal/internal/config"
	"github.com/spec-kit/ops-portal/internal/events"
	"github.com/spec-kit/ops-portal/internal/notify"
	"github.com/spec-kit/ops-portal/internal/observability"
	"github.com/spec-kit/ops-portal/internal/persistence"
	"github.com/spec-kit/ops-portal/internal/repository"
	"github.com/spec-kit/ops-portal/internal/service"
	"github.com/spec-kit/ops-portal/internal/worker"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Postgres   *persistence.Postgres
	Redis      *persistence.Redis
	Metrics    *observability.Metrics
	Dispatcher events.Dispatcher
	Views      *cache.Views
	Directory  repository.ActorRepository
	Requests   *service.RequestService
	Tickets    *service.TicketService
	Tokens     *auth.TokenManager
}

// New connects to the stores and wires services and event subscribers.
// Redis is optional: with REDIS_ADDR empty the view cache is disabled.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			pg.Close()
			return nil, err
		}
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Postgres:   pg,
		Metrics:    observability.NewMetrics(),
		Dispatcher: events.NewInMemoryDispatcher(),
		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
	}
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		a.Redis = persistence.NewRedis(cfg.Redis, logger)
		a.Views = cache.NewViews(a.Redis.Client, a.Redis.Channel, cfg.Cache.TTL(), logger)
	}

	pool := pg.PoolHandle()
	transactor := persistence.NewTransactor(pool)
	a.Directory = repository.NewActorRepository(pool)

	a.Requests = service.NewRequestService(service.RequestDependencies{
		RequestRepo:  repository.NewRequestRepository(pool),
		ApprovalRepo: repository.NewApprovalRepository(pool),
		Directory:    a.Directory,
		Transactor:   transactor,
		Dispatcher:   a.Dispatcher,
		Logger:       logger.Named("requests"),
	})
	a.Tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repository.NewTicketRepository(pool),
		CommentRepo: repository.NewTicketCommentRepository(pool),
		HistoryRepo: repository.NewTicketHistoryRepository(pool),
		Directory:   a.Directory,
		Transactor:  transactor,
		Dispatcher:  a.Dispatcher,
		Policy:      service.TicketPolicy{AssignReopensTerminal: cfg.Tickets.AssignReopensTerminal},
		Logger:      logger.Named("tickets"),
	})

	notifications := service.NewNotificationService(a.Dispatcher, NewSender(cfg.Notification, logger), a.Metrics, logger.Named("notify"), cfg.App.PublicURL)
	worker.StartSubscribers(a.Dispatcher, worker.Subscribers{
		Notifications: notifications,
		Views:         a.Views,
		Metrics:       a.Metrics,
	})
	return a, nil
}

// NewSender picks the webhook relay when configured and falls back to logging.
func NewSender(cfg config.NotificationConfig, logger *zap.Logger) notify.Sender {
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		return notify.NewWebhookSender(cfg.WebhookURL, cfg.EmailFrom, cfg.Timeout())
	}
	return notify.NewLogSender(logger.Named("notify"), cfg.EmailFrom)
}

// Close releases store connections.
func (a *App) Close() {
	a.Redis.Close()
	a.Postgres.Close()
}
