package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"golang.org/x/time/rate"
)

// HTTPEmbedder talks to an OpenAI-compatible embeddings endpoint.
// Grounded on the teacher's model/ollama.go (JSON POST, context
// deadline, L2 normalization) and kxddry-rag-text-search's
// internal/embedding/openai/openai.go (request/response shape:
// {"data":[{"embedding":[...]}]} with an Ollama-native
// {"embedding":[...]} fallback).
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// limiter throttles outbound calls so a burst of concurrent chat
	// requests cannot overwhelm the embedding provider in a single
	// instant — the inbound sliding window (internal/ratelimit) bounds
	// caller request rate, this bounds our own egress rate.
	limiter *rate.Limiter
}

type embedderOption func(*HTTPEmbedder)

// WithOutboundRate overrides the default outbound throttle.
func WithOutboundRate(r rate.Limit, burst int) embedderOption {
	return func(e *HTTPEmbedder) { e.limiter = rate.NewLimiter(r, burst) }
}

func NewHTTPEmbedder(baseURL, apiKey string, httpClient *http.Client, opts ...embedderOption) *HTTPEmbedder {
	e := &HTTPEmbedder{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(20), 5),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embedding []float32 `json:"embedding"` // Ollama-native single-vector shape
}

// Embed batches a single request per call (the interface accepts
// multiple texts; the chat/retrieval paths always call it with one).
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingVector, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(embeddingsRequest{Model: "text-embedding-3-small", Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedder unreachable: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder returned status %d: %s", resp.StatusCode, string(payload))
	}

	var out embeddingsResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}

	var vectors [][]float32
	for _, d := range out.Data {
		vectors = append(vectors, d.Embedding)
	}
	if len(vectors) == 0 && len(out.Embedding) > 0 {
		vectors = append(vectors, out.Embedding)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(texts))
	}

	results := make([]EmbeddingVector, len(texts))
	for i, v := range vectors {
		results[i] = EmbeddingVector{Vector: normalize(v), Text: texts[i]}
	}
	return results, nil
}

// normalize L2-normalizes a vector, mirroring the teacher's
// normalize64 in model/ollama.go (adapted to float32 throughout).
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
