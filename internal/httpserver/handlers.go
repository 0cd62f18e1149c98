package httpserver

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
	"github.com/hr-knowledge-base/rag-core/internal/chat"
	"github.com/hr-knowledge-base/rag-core/internal/injection"
	"github.com/hr-knowledge-base/rag-core/internal/metrics"
	"github.com/hr-knowledge-base/rag-core/internal/retrieval"
	"github.com/hr-knowledge-base/rag-core/internal/validation"
)

// retrieveResponseItem is the wire shape of one /api/v1/retrieve result.
type retrieveResponseItem struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	ChunkIndex    int     `json:"chunk_index"`
	Content       string  `json:"content"`
	SectionTitle  string  `json:"section_title"`
	DocumentTitle string  `json:"document_title"`
	SourceFile    string  `json:"source_file"`
	Similarity    float64 `json:"similarity"`
}

type retrieveResponse struct {
	Results []retrieveResponseItem `json:"results"`
}

// handleRetrieve implements spec section 4.7 end to end: decode,
// validate, search, respond.
func (s *Server) handleRetrieve(c *fiber.Ctx) error {
	req, apiErr := validation.DecodeRetrieve(bytes.NewReader(c.Body()), int64(len(c.Body())))
	if apiErr != nil {
		return apiErr
	}

	var documentID string
	if req.Filters.DocumentID != nil {
		documentID = req.Filters.DocumentID.String()
	}

	results, err := s.engine.Search(c.Context(), retrieval.Params{
		Query:         req.Query,
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
		DocumentID:    documentID,
	})
	if err != nil {
		return err
	}

	items := make([]retrieveResponseItem, 0, len(results))
	for _, r := range results {
		items = append(items, retrieveResponseItem{
			ChunkID:       r.ChunkID,
			DocumentID:    r.DocumentID,
			ChunkIndex:    r.ChunkIndex,
			Content:       r.Content,
			SectionTitle:  r.SectionTitle,
			DocumentTitle: r.DocumentTitle,
			SourceFile:    r.SourceFile,
			Similarity:    r.Similarity,
		})
	}

	s.recordOutcome(c, false)
	return c.JSON(retrieveResponse{Results: items})
}

// handleChat implements spec section 4.9: decode, screen every
// user-role message for injection attempts, then either materialize a
// single debug response (?debug=1) or stream tokens over SSE.
func (s *Server) handleChat(c *fiber.Ctx) error {
	req, apiErr := validation.DecodeChat(bytes.NewReader(c.Body()), int64(len(c.Body())))
	if apiErr != nil {
		return apiErr
	}

	for _, m := range req.Messages {
		if m.Role == "user" && injection.Suspicious(m.Content) {
			return apierr.ValidationReason("suspicious_input")
		}
	}

	messages := make([]chat.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chat.Message{Role: m.Role, Content: m.Content}
	}

	requestID := requestIDFromCtx(c)

	if req.MaxOutputTokens != validation.DefaultChatMaxOutputTokens {
		if logger, ok := c.Locals(localLogger).(*slog.Logger); ok {
			logger.Debug("max_output_tokens supplied but not forwarded to the LLM collaborator",
				"request_id", requestID, "value", req.MaxOutputTokens)
		}
	}

	if c.Query("debug") == "1" {
		resp, err := s.orchestrator.Debug(c.Context(), requestID, messages)
		if err != nil {
			return err
		}
		s.recordOutcome(c, false)
		return c.JSON(resp)
	}

	return s.streamChat(c, messages)
}

// streamChat sets up the SSE response and drives the orchestrator's
// streaming pipeline through a fasthttp body stream writer, the
// idiomatic Fiber way to send a response incrementally.
func (s *Server) streamChat(c *fiber.Ctx, messages []chat.Message) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx := c.UserContext()
	endpoint := endpointFromCtx(c)
	start := startFromCtx(c)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		sink := &sseWriter{w: w}
		err := s.orchestrator.Stream(ctx, messages, sink)
		s.metrics.Observe(endpoint, err != nil, millisSince(start))
	}))

	return nil
}

// metricsResponse wraps the per-endpoint snapshot with the requestId and
// timestamp spec section 4.11 requires alongside the buckets.
type metricsResponse struct {
	RequestID string                     `json:"requestId"`
	Timestamp time.Time                  `json:"timestamp"`
	Buckets   map[string]metrics.Snapshot `json:"buckets"`
}

// handleMetrics returns the current per-endpoint snapshot, per spec
// section 4.11. Clients that prefer text/plain get the Prometheus-style
// text rendering instead of JSON, per SPEC_FULL section 4.2. Both
// representations carry the requestId and timestamp the spec mandates.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	snapshot := s.metrics.Snapshot()
	s.recordOutcome(c, false)

	requestID := requestIDFromCtx(c)
	now := s.clock.Now()

	if c.Accepts(fiber.MIMEApplicationJSON, fiber.MIMETextPlain) == fiber.MIMETextPlain {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		header := fmt.Sprintf("# requestId %s\n# timestamp %s\n", requestID, now.Format(time.RFC3339))
		return c.SendString(header + metrics.FormatText(snapshot))
	}
	return c.JSON(metricsResponse{RequestID: requestID, Timestamp: now, Buckets: snapshot})
}

// handleHealth reports liveness without requiring authentication, per
// the route table in spec section 4.10.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	report := s.checker.Check(c.Context())

	status := fiber.StatusOK
	switch report.Status {
	case "unhealthy":
		status = fiber.StatusServiceUnavailable
	}

	s.recordOutcome(c, status != fiber.StatusOK)
	return c.Status(status).JSON(report)
}
