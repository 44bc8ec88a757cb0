package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ops-portal/internal/api/http/handlers"
	"github.com/spec-kit/ops-portal/internal/auth"
	"github.com/spec-kit/ops-portal/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Requests       *handlers.RequestsHandler
	Tickets        *handlers.TicketsHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	authenticated := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireAnyRole()}

	requests := app.Group("/requests", authenticated...)
	requests.Post("/", cfg.Requests.CreateRequest)
	requests.Get("/:id", cfg.Requests.GetRequest)
	requests.Post("/:id/decision", cfg.Requests.Decide)

	tickets := app.Group("/tickets", authenticated...)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Patch("/:id", auth.RequireStaff(), cfg.Tickets.UpdateTicket)
	tickets.Post("/:id/assign", auth.RequireStaff(), cfg.Tickets.AssignTicket)
}
