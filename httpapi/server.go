package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authsession"
)

// Config wires the HTTP surface.
type Config struct {
	Auth     AuthService
	Sessions SessionSource
	Profiles ProfileReader
	Bearer   BearerConfig
	Logger   authsession.Logger
	// RequestTimeout bounds each request's context when positive.
	RequestTimeout time.Duration
}

// New returns a fiber app serving the auth routes.
func New(cfg Config) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	Register(app, cfg)
	return app
}

// Register mounts the auth routes on router.
func Register(router fiber.Router, cfg Config) {
	logger := cfg.Logger
	if logger == nil {
		logger = authsession.NopLogger{}
	}
	if cfg.Bearer.Logger == nil {
		cfg.Bearer.Logger = logger
	}
	if cfg.Bearer.ContextKey == "" {
		cfg.Bearer.ContextKey = "user"
	}

	h := &Handlers{
		auth:       cfg.Auth,
		sessions:   cfg.Sessions,
		profiles:   cfg.Profiles,
		contextKey: cfg.Bearer.ContextKey,
	}

	if cfg.RequestTimeout > 0 {
		router.Use(requestTimeout(cfg.RequestTimeout))
	}
	router.Use(errorMiddleware(logger))

	bearer := Bearer(cfg.Bearer)

	auth := router.Group("/auth")
	auth.Post("/signup", h.Signup)
	auth.Post("/login", h.Login)
	auth.Post("/logout", h.Logout)
	auth.Get("/session", h.Session)
	auth.Get("/me", bearer, h.Me)
	auth.Get("/profile", bearer, h.Profile)

	router.Get("/profiles/me", bearer, h.Profile)
}

func requestTimeout(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}
