package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/auth-session/internal/api/http/handlers"
	"github.com/spec-kit/auth-session/internal/auth"
	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health            *handlers.HealthHandler
	Session           *handlers.SessionHandler
	Confirm           *handlers.ConfirmHandler
	Admin             *handlers.AdminHandler
	SessionMiddleware *auth.SessionMiddleware
	Metrics           *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	sessionGroup := app.Group("/session")
	sessionGroup.Get("", cfg.Session.Get)
	sessionGroup.Post("/sign-in", cfg.Session.SignIn)
	sessionGroup.Post("/sign-up", cfg.Session.SignUp)
	sessionGroup.Post("/sign-out", cfg.Session.SignOut)
	if cfg.Confirm != nil {
		sessionGroup.Post("/confirm", cfg.Confirm.Confirm)
	}
	sessionGroup.Delete("/error", cfg.Session.ClearError)
	sessionGroup.Put("/role", cfg.SessionMiddleware.Handle, auth.RequireSignedIn(), cfg.Session.UpdateRole)

	admin := app.Group("/admin", cfg.SessionMiddleware.Handle, auth.RequireRole(domain.RoleAdmin))
	admin.Post("/cache/prune", cfg.Admin.PruneCache)
}
