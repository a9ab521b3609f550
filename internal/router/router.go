package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/ai-check-api/internal/config"
	"github.com/noah-isme/ai-check-api/internal/handler"
	"github.com/noah-isme/ai-check-api/internal/middleware"
	"github.com/noah-isme/ai-check-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ManualTriggerHandler *handler.ManualTriggerHandler
	SessKeyHandler       *handler.SessKeyHandler
	StatusHandler        *handler.StatusHandler
	SettingsHandler      *handler.SettingsHandler
	DebugHandler         *handler.DebugHandler
	ActivityHandler      *handler.ActivityHandler
	EventHandler         *handler.EventHandler
	// JWTMiddleware rejects requests without a valid token.
	JWTMiddleware fiber.Handler
	// OptionalJWTMiddleware binds the caller when a valid token is present.
	OptionalJWTMiddleware fiber.Handler
	TriggerRateLimit      int
	TriggerRateWindow     time.Duration
	HealthProbes          map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	optionalJWT := deps.OptionalJWTMiddleware
	if optionalJWT == nil {
		optionalJWT = func(c *fiber.Ctx) error { return c.Next() }
	}

	aiCheck := api.Group("/ai-check")

	// The trigger answers unauthenticated callers itself, in its own error format.
	if deps.ManualTriggerHandler != nil {
		trigger := aiCheck.Group("/trigger", optionalJWT, middleware.RateLimit("ai_check_trigger", deps.TriggerRateLimit, deps.TriggerRateWindow))
		deps.ManualTriggerHandler.Register(trigger)
	}

	if deps.SessKeyHandler != nil {
		deps.SessKeyHandler.Register(aiCheck.Group("/sesskey", jwtMiddleware))
	}

	if deps.StatusHandler != nil {
		deps.StatusHandler.Register(aiCheck.Group("/submissions", jwtMiddleware))
	}

	if deps.SettingsHandler != nil {
		settings := aiCheck.Group("/assignments", jwtMiddleware, middleware.WithAuth(func(c *fiber.Ctx) error {
			return c.Next()
		}, middleware.AuthOptions{Role: middleware.AuthRoleTeacher}))
		deps.SettingsHandler.Register(settings)
	}

	if deps.DebugHandler != nil {
		deps.DebugHandler.Register(aiCheck.Group("/debug", jwtMiddleware, middleware.RequireRole("admin")))
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(aiCheck.Group("/activity", jwtMiddleware, middleware.RequireRole("admin")))
	}

	if deps.EventHandler != nil {
		deps.EventHandler.Register(aiCheck.Group("/events"))
	}
}
