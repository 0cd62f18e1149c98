package httpserver

import (
	"bufio"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
)

// errorHandler translates any error returned from a handler or
// middleware into the fixed envelope shape, records the outcome into
// metrics, and logs the underlying cause. Grounded on the teacher's
// app/api/errors.go ErrorHandler (single function registered on
// fiber.Config), generalized from its two ad hoc error types to the
// apierr taxonomy.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	apiErr := translateError(err)
	requestID := requestIDFromCtx(c)

	s.recordOutcome(c, true)

	// Caller errors (4xx) log at warn; dependency and internal errors
	// (5xx) log at error.
	level := slog.LevelError
	if apiErr.HTTPStatus() < 500 {
		level = slog.LevelWarn
	}
	logger, ok := c.Locals(localLogger).(*slog.Logger)
	if !ok {
		logger = s.logger.With("request_id", requestID)
	}
	logger.Log(c.UserContext(), level, "request failed",
		"code", apiErr.Code,
		"status_code", apiErr.HTTPStatus(),
		"duration_ms", millisSince(startFromCtx(c)),
		"message", apiErr.Message,
		"cause", causeString(apiErr))

	return c.Status(apiErr.HTTPStatus()).JSON(apierr.Envelope{
		Error:     stripCause(apiErr),
		RequestID: requestID,
	})
}

func translateError(err error) *apierr.APIError {
	if fe, ok := err.(*fiber.Error); ok {
		return apierr.New(apierr.CodeBadRequest, fe.Message)
	}
	return apierr.As(err)
}

// stripCause returns a copy with Cause cleared; Cause already carries
// json:"-" but this keeps the logged error object and the serialized
// one visibly distinct to a reader of the code.
func stripCause(e *apierr.APIError) *apierr.APIError {
	out := *e
	out.Cause = nil
	return &out
}

func causeString(e *apierr.APIError) string {
	if e.Cause == nil {
		return ""
	}
	return e.Cause.Error()
}

// recordOutcome records the completed request's latency and error
// status into the metrics registry, reading the start time and
// endpoint name requestContext stashed in c.Locals.
func (s *Server) recordOutcome(c *fiber.Ctx, isError bool) {
	endpoint := endpointFromCtx(c)
	if endpoint == "" {
		return
	}
	s.metrics.Observe(endpoint, isError, millisSince(startFromCtx(c)))
}

// sseWriter adapts a bufio.Writer into chat.TokenSink, framing every
// fragment as an SSE data line, per the wire format observed in
// Pyh2002-GopherAI-Resume's StreamMessage handler.
type sseWriter struct {
	w *bufio.Writer
}

func (s *sseWriter) WriteToken(text string) error {
	if _, err := s.w.WriteString("data: " + sseEscape(text) + "\n\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *sseWriter) Close() error {
	if _, err := s.w.WriteString("data: [DONE]\n\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

func sseEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			// dropped, never meaningful in a single SSE data line
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
