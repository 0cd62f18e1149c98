// Package httpserver implements the HTTP surface of spec section
// 4.10: routes, the mutating-endpoint middleware chain, CORS, and
// cache headers. Grounded on the teacher's app/server/server.go
// (fiber.New, route groups, ErrorHandler config) and
// app/api/check_handler.go (health handler shape).
package httpserver

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/hr-knowledge-base/rag-core/internal/chat"
	"github.com/hr-knowledge-base/rag-core/internal/clock"
	"github.com/hr-knowledge-base/rag-core/internal/collaborators"
	"github.com/hr-knowledge-base/rag-core/internal/config"
	"github.com/hr-knowledge-base/rag-core/internal/health"
	"github.com/hr-knowledge-base/rag-core/internal/metrics"
	"github.com/hr-knowledge-base/rag-core/internal/ratelimit"
	"github.com/hr-knowledge-base/rag-core/internal/retrieval"
)

// Server owns the Fiber app and every dependency the handlers need.
type Server struct {
	app *fiber.App
	cfg *config.Config

	limiter ratelimit.Limiter
	metrics *metrics.Registry
	logger  *slog.Logger
	clock   clock.Clock

	engine       *retrieval.Engine
	orchestrator *chat.Orchestrator
	checker      *health.Checker

	secret string
}

// Deps bundles everything New needs beyond static config, so main.go
// stays a thin wiring file.
type Deps struct {
	Config       *config.Config
	Limiter      ratelimit.Limiter
	Metrics      *metrics.Registry
	Logger       *slog.Logger
	Clock        clock.Clock // optional; defaults to clock.Real{}
	Engine       *retrieval.Engine
	Orchestrator *chat.Orchestrator
	Store        collaborators.VectorStore
	Embedder     collaborators.Embedder
}

func New(d Deps) *Server {
	requestClock := d.Clock
	if requestClock == nil {
		requestClock = clock.Real{}
	}

	s := &Server{
		cfg:          d.Config,
		limiter:      d.Limiter,
		metrics:      d.Metrics,
		logger:       d.Logger,
		clock:        requestClock,
		engine:       d.Engine,
		orchestrator: d.Orchestrator,
		checker:      health.NewChecker(d.Store, d.Embedder),
		secret:       d.Config.APISecretToken,
	}

	s.app = fiber.New(fiber.Config{
		ErrorHandler: s.errorHandler,
	})

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Use(s.cacheHeaders)
	s.app.Use(s.corsHeaders)

	v1 := s.app.Group("/api/v1")

	v1.Options("/chat", s.handleOptions)
	v1.Options("/retrieve", s.handleOptions)

	v1.Post("/chat",
		s.requestContext,
		s.requireAuth,
		s.enforceBodySize,
		s.rateLimit(ratelimit.Chat),
		s.handleChat,
	)
	v1.Post("/retrieve",
		s.requestContext,
		s.requireAuth,
		s.enforceBodySize,
		s.rateLimit(ratelimit.Retrieve),
		s.handleRetrieve,
	)
	v1.Get("/metrics",
		s.requestContext,
		s.requireAuth,
		s.handleMetrics,
	)
	v1.Get("/health", s.requestContext, s.handleHealth)
}

// Listen starts the HTTP listener. Exit codes are the caller's
// responsibility (spec section 6.4); this just surfaces bind errors.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleOptions(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
