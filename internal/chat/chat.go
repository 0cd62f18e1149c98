// Package chat implements the end-to-end chat pipeline of spec
// section 4.9, grounded on the teacher's
// app/api/handler.go::HandleRequest (retrieve -> build context ->
// call model -> respond) and app/agent/agent.go::GenerateAnswer (the
// HTTP call to the model), replaced with a streaming decode loop per
// spec instead of one synchronous completion.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
	"github.com/hr-knowledge-base/rag-core/internal/collaborators"
	"github.com/hr-knowledge-base/rag-core/internal/prompt"
	"github.com/hr-knowledge-base/rag-core/internal/retrieval"
	"github.com/hr-knowledge-base/rag-core/internal/timeout"
)

// TopK and MinSimilarity for the chat-internal retrieval call, per
// spec section 4.9: deliberately looser than the retrieval endpoint's
// defaults so the model has material to cite or explicitly decline.
const (
	InternalTopK          = 5
	InternalMinSimilarity = 0.3
)

// Message is one turn of the conversation, decoupled from the HTTP
// validation schema.
type Message struct {
	Role    string
	Content string
}

// RetrievedDoc is one entry of the debug-mode retrieved_docs array.
type RetrievedDoc struct {
	ChunkID       string  `json:"chunk_id"`
	Content       string  `json:"content"`
	Similarity    float64 `json:"similarity"`
	SourceFile    string  `json:"source_file"`
	DocumentTitle string  `json:"document_title"`
}

// DebugResponse is the materialized JSON body for debug=1 requests.
type DebugResponse struct {
	Answer        string         `json:"answer"`
	RequestID     string         `json:"requestId"`
	RetrievedDocs []RetrievedDoc `json:"retrieved_docs"`
}

// Orchestrator wires retrieval, prompt assembly, and the LLM together.
type Orchestrator struct {
	engine *retrieval.Engine
	llm    collaborators.LLM
	logger *slog.Logger
}

func NewOrchestrator(engine *retrieval.Engine, llm collaborators.LLM, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{engine: engine, llm: llm, logger: logger}
}

// retrieveAndBuild runs the shared first half of the pipeline: the
// last message is the retrieval query (spec 4.9 step 1), earlier
// messages never influence retrieval.
func (o *Orchestrator) retrieveAndBuild(ctx context.Context, messages []Message) (string, []retrieval.Result, error) {
	if len(messages) == 0 {
		return "", nil, apierr.BadRequest("messages must not be empty")
	}
	query := messages[len(messages)-1].Content

	results, err := o.engine.Search(ctx, retrieval.Params{
		Query:         query,
		TopK:          InternalTopK,
		MinSimilarity: InternalMinSimilarity,
	})
	if err != nil {
		return "", nil, err
	}

	systemText := prompt.Build(results)
	return systemText, results, nil
}

// Debug runs the pipeline and materializes a single JSON response
// instead of streaming, per spec section 4.9 step 5.
func (o *Orchestrator) Debug(ctx context.Context, requestID string, messages []Message) (*DebugResponse, error) {
	systemText, results, err := o.retrieveAndBuild(ctx, messages)
	if err != nil {
		return nil, err
	}

	stream, err := o.startStream(ctx, systemText, messages)
	if err != nil {
		return nil, err
	}

	var answer string
	err = timeout.Do(ctx, timeout.LLMComplete, func(ctx context.Context) error {
		var streamErr error
		answer, streamErr = stream.FullText(ctx)
		return streamErr
	})
	if err != nil {
		return nil, classifyLLMError(err)
	}

	docs := make([]RetrievedDoc, 0, len(results))
	for _, r := range results {
		docs = append(docs, RetrievedDoc{
			ChunkID:       r.ChunkID,
			Content:       r.Content,
			Similarity:    r.Similarity,
			SourceFile:    r.SourceFile,
			DocumentTitle: r.DocumentTitle,
		})
	}

	return &DebugResponse{Answer: answer, RequestID: requestID, RetrievedDocs: docs}, nil
}

// TokenSink receives incremental answer text as the LLM produces it.
// Implementations forward each fragment to the client without
// buffering beyond what the LLM integration supplies, per spec
// section 4.9 step 6.
type TokenSink interface {
	WriteToken(text string) error
	Close() error
}

// Stream runs the pipeline and forwards tokens to sink as they arrive,
// canceling the LLM call if the sink reports the client disconnected.
//
// timeout.LLMStreamIdle bounds idle time *between* tokens, not the
// total stream duration: the deadline is reset every time a
// StreamEvent arrives, so a continuously-active stream can run
// indefinitely while a stalled one is still killed within the idle
// window.
func (o *Orchestrator) Stream(ctx context.Context, messages []Message, sink TokenSink) error {
	systemText, _, err := o.retrieveAndBuild(ctx, messages)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := o.startStream(streamCtx, systemText, messages)
	if err != nil {
		return err
	}

	idleTimer := time.NewTimer(timeout.LLMStreamIdle)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return apierr.GatewayTimeout("llm streaming")
		case <-idleTimer.C:
			return apierr.GatewayTimeout("llm streaming")
		case ev, ok := <-stream.Events():
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(timeout.LLMStreamIdle)

			if !ok {
				if err := stream.Err(); err != nil {
					return classifyLLMError(err)
				}
				return sink.Close()
			}
			if ev.TextDelta != "" {
				if err := sink.WriteToken(ev.TextDelta); err != nil {
					// Client disconnected; cancel the upstream call and stop.
					cancel()
					return nil
				}
			}
			if ev.Done {
				return sink.Close()
			}
		}
	}
}

func (o *Orchestrator) startStream(ctx context.Context, systemText string, messages []Message) (collaborators.Stream, error) {
	wire := make([]collaborators.ChatMessage, len(messages))
	for i, m := range messages {
		wire[i] = collaborators.ChatMessage{Role: m.Role, Content: m.Content}
	}

	var stream collaborators.Stream
	err := timeout.Do(ctx, timeout.LLMComplete, func(ctx context.Context) error {
		s, streamErr := o.llm.Stream(ctx, systemText, wire)
		stream = s
		return streamErr
	})
	if err != nil {
		return nil, classifyLLMError(err)
	}
	return stream, nil
}

func classifyLLMError(err error) *apierr.APIError {
	var filtered *collaborators.ContentFilteredError
	if errors.As(err, &filtered) {
		return apierr.ValidationReason("content_filtered")
	}
	if errors.Is(err, timeout.ErrTimedOut) {
		return apierr.GatewayTimeout("llm completion")
	}
	return apierr.ServiceUnavailable("llm")
}
