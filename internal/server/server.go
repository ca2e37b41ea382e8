// Package server exposes the relay core over plain JSON HTTP and mounts
// the JSON-RPC bridge for agent clients.
package server

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/metrics"
	"github.com/p-blackswan/relay/internal/relay"
	"github.com/p-blackswan/relay/internal/requestid"
)

// Config holds server wiring.
type Config struct {
	ListenAddr     string
	CronSecret     string
	CORSOrigins    string
	RateLimitRPS   int
	RateLimitBurst int
}

// Server is the relay Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	logger   zerolog.Logger
	config   Config
}

// New creates and configures the server. mcpHandler, when non-nil, is
// mounted at /mcp.
func New(cfg Config, svc *relay.Service, store kv.Store, m *metrics.Metrics, mcpHandler fiber.Handler, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	handlers := NewHandlers(svc, store, cfg.CronSecret, m, logger)

	s := &Server{
		app:      app,
		handlers: handlers,
		logger:   logger.With().Str("component", "server").Logger(),
		config:   cfg,
	}

	s.setupMiddleware(cfg, m, logger)
	s.setupRoutes(handlers, m, mcpHandler)

	return s
}

func (s *Server) setupMiddleware(cfg Config, m *metrics.Metrics, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware: adopt a sane inbound ID or mint one, and
	// attach it to the handler context for log correlation.
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Ensure(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, x-github-user, x-github-username",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	if cfg.RateLimitRPS > 0 {
		s.app.Use(NewRateLimitMiddleware(RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		}, m))
	}

	// Audit middleware (log every request)
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Interface("request_id", c.Locals("request_id")).
			Msg("relay request")

		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, m *metrics.Metrics, mcpHandler fiber.Handler) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)

	if m != nil {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	s.app.Post("/check_status", h.CheckStatus)
	s.app.Post("/post_status", h.PostStatus)
	s.app.Get("/graph", h.Graph)
	s.app.Get("/activity", h.Activity)
	s.app.Post("/release_all_locks", h.ReleaseAll)
	s.app.Post("/clear_agent_and_feed", h.Clear)
	s.app.Get("/cleanup_stale_locks", h.Cleanup)

	if mcpHandler != nil {
		s.app.Post("/mcp", mcpHandler)
		s.app.Get("/mcp", mcpHandler)
	}
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("relay server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("relay server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		return c.Status(code).JSON(fiber.Map{
			"error":   "internal_error",
			"details": "An internal error occurred",
		})
	}
}
