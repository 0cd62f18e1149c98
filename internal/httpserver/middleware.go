package httpserver

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
	"github.com/hr-knowledge-base/rag-core/internal/auth"
	"github.com/hr-knowledge-base/rag-core/internal/clock"
	"github.com/hr-knowledge-base/rag-core/internal/ratelimit"
	"github.com/hr-knowledge-base/rag-core/internal/reqlog"
	"github.com/hr-knowledge-base/rag-core/internal/validation"
)

const (
	localRequestID = "request_id"
	localLogger    = "logger"
	localStart     = "start_time"
	localToken     = "token"
	localEndpoint  = "endpoint"
)

// requestContext is the first link of the mutating-endpoint chain:
// requestId -> logger -> ... It assigns a fresh request id, a child
// logger carrying it, and records the start time for latency metrics.
func (s *Server) requestContext(c *fiber.Ctx) error {
	requestID := clock.NewRequestID()
	endpoint := endpointName(c)

	c.Locals(localRequestID, requestID)
	c.Locals(localEndpoint, endpoint)
	c.Locals(localStart, time.Now())
	c.Locals(localLogger, reqlog.ForRequest(s.logger, requestID, endpoint))

	c.Set("X-Request-Id", requestID)
	return c.Next()
}

func endpointName(c *fiber.Ctx) string {
	switch c.Path() {
	case "/api/v1/chat":
		return "chat"
	case "/api/v1/retrieve":
		return "retrieve"
	case "/api/v1/metrics":
		return "metrics"
	case "/api/v1/health":
		return "health"
	default:
		return "unknown"
	}
}

// requireAuth implements the auth step of the chain (spec section 4.2).
func (s *Server) requireAuth(c *fiber.Ctx) error {
	headers := auth.Headers{
		Authorization: c.Get(fiber.HeaderAuthorization),
		AccessToken:   c.Get("X-Access-Token"),
	}
	token, err := auth.Authenticate(headers, s.secret)
	if err != nil {
		return err
	}
	c.Locals(localToken, token)
	return c.Next()
}

// enforceBodySize implements the size step: reject by declared
// Content-Length before any decoding happens, per spec section 4.5.
func (s *Server) enforceBodySize(c *fiber.Ctx) error {
	if cl := c.Get(fiber.HeaderContentLength); cl != "" {
		if n, parseErr := strconv.ParseInt(cl, 10, 64); parseErr == nil && n > validation.MaxBodyBytes {
			return apierr.PayloadTooLarge()
		}
	}
	return c.Next()
}

// rateLimit implements the per-endpoint sliding-window check.
func (s *Server) rateLimit(endpoint ratelimit.Endpoint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, _ := c.Locals(localToken).(string)
		result := s.limiter.Allow(endpoint, token)
		if !result.Allowed {
			s.metrics.ObserveRateLimitHit(string(endpoint))
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(result.RetryAfterSeconds, 10))
			return apierr.RateLimitExceeded(result.RetryAfterSeconds)
		}
		return c.Next()
	}
}

// cacheHeaders applies the fixed no-store headers to every response,
// per spec section 4.10.
func (s *Server) cacheHeaders(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, private")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
	return c.Next()
}

// corsHeaders implements the allowlist-echo CORS policy of spec
// section 4.10.
func (s *Server) corsHeaders(c *fiber.Ctx) error {
	origin := c.Get(fiber.HeaderOrigin)
	allowed := s.cfg.AllowedOrigins[0]
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			allowed = origin
			break
		}
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, allowed)
	c.Set(fiber.HeaderAccessControlAllowMethods, "POST, GET, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, Authorization, X-Access-Token")
	c.Set(fiber.HeaderAccessControlMaxAge, "86400")
	c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
	return c.Next()
}

func requestIDFromCtx(c *fiber.Ctx) string {
	id, _ := c.Locals(localRequestID).(string)
	return id
}

func endpointFromCtx(c *fiber.Ctx) string {
	ep, _ := c.Locals(localEndpoint).(string)
	return ep
}

func startFromCtx(c *fiber.Ctx) time.Time {
	t, _ := c.Locals(localStart).(time.Time)
	return t
}

func millisSince(start time.Time) float64 {
	if start.IsZero() {
		return 0
	}
	return float64(time.Since(start)) / float64(time.Millisecond)
}
