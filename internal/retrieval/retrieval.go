// Package retrieval implements the embed-then-search pipeline of spec
// section 4.7. Grounded on the teacher's app/api/handler.go
// (h.embedder.Embed -> h.contextStore.Search -> filter-by-quality
// shape), replacing the teacher's hardcoded 0.55 distance floor and
// Russian log text with the spec's parameterized minSimilarity and
// structured English logging.
package retrieval

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
	"github.com/hr-knowledge-base/rag-core/internal/collaborators"
	"github.com/hr-knowledge-base/rag-core/internal/timeout"
)

// EmbeddingDimension is the fixed vector length every embedding must
// have, per spec section 3.
const EmbeddingDimension = 1536

// Result is one ranked passage, ready for either JSON serialization
// (retrieval endpoint) or prompt assembly (chat endpoint).
type Result struct {
	ChunkID       string
	DocumentID    string
	ChunkIndex    int
	Content       string
	SectionTitle  string
	DocumentTitle string
	SourceFile    string
	Similarity    float64
}

// Params bundles a retrieval call's inputs.
type Params struct {
	Query         string
	TopK          int
	MinSimilarity float64
	DocumentID    string // optional filter, empty means unrestricted
}

// Engine performs query -> embedding -> top-k similarity search.
type Engine struct {
	embedder collaborators.Embedder
	store    collaborators.VectorStore
	logger   *slog.Logger
}

func NewEngine(embedder collaborators.Embedder, store collaborators.VectorStore, logger *slog.Logger) *Engine {
	return &Engine{embedder: embedder, store: store, logger: logger}
}

// Search runs the full pipeline described in spec section 4.7. An
// empty result is a successful retrieval — it is not an error, and
// callers (the chat no-context fallback) rely on that.
func (e *Engine) Search(ctx context.Context, p Params) ([]Result, error) {
	var vectors []collaborators.EmbeddingVector
	err := timeout.Do(ctx, timeout.Embedding, func(ctx context.Context) error {
		var embedErr error
		vectors, embedErr = e.embedder.Embed(ctx, []string{p.Query})
		return embedErr
	})
	if err != nil {
		return nil, classifyEmbedderError(err)
	}
	if len(vectors) == 0 {
		return nil, apierr.ServiceUnavailable("embedder")
	}

	var records []collaborators.ChunkRecord
	err = timeout.Do(ctx, timeout.Database, func(ctx context.Context) error {
		var storeErr error
		records, storeErr = e.store.Search(ctx, vectors[0].Vector, p.TopK, collaborators.SearchFilter{DocumentID: p.DocumentID})
		return storeErr
	})
	if err != nil {
		return nil, classifyStoreError(err)
	}

	results := make([]Result, 0, len(records))
	for _, r := range records {
		similarity := clamp01(1 - r.Distance)
		if similarity < p.MinSimilarity {
			continue
		}
		results = append(results, Result{
			ChunkID:       r.ChunkID,
			DocumentID:    r.DocumentID,
			ChunkIndex:    r.ChunkIndex,
			Content:       r.Content,
			SectionTitle:  r.SectionTitle,
			DocumentTitle: r.DocumentTitle,
			SourceFile:    r.SourceFile,
			Similarity:    similarity,
		})
	}

	if e.logger != nil {
		e.logger.Debug("retrieval completed",
			"query_len", len(p.Query),
			"top_k", p.TopK,
			"min_similarity", p.MinSimilarity,
			"results", len(results),
		)
	}

	return results, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func classifyEmbedderError(err error) *apierr.APIError {
	if isTimeout(err) {
		return apierr.GatewayTimeout("embedding generation")
	}
	return apierr.ServiceUnavailable("embedder")
}

func classifyStoreError(err error) *apierr.APIError {
	if isTimeout(err) {
		return apierr.GatewayTimeout("vector store search")
	}
	return apierr.Internal(err)
}

func isTimeout(err error) bool {
	return errors.Is(err, timeout.ErrTimedOut)
}
