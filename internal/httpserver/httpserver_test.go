package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hr-knowledge-base/rag-core/internal/collaborators"
	"github.com/hr-knowledge-base/rag-core/internal/config"
	"github.com/hr-knowledge-base/rag-core/internal/metrics"
	"github.com/hr-knowledge-base/rag-core/internal/ratelimit"
	"github.com/hr-knowledge-base/rag-core/internal/retrieval"
)

const testSecret = "test-secret-at-least-32-bytes-long!"

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([]collaborators.EmbeddingVector, error) {
	return []collaborators.EmbeddingVector{{Vector: []float32{0.1, 0.2}}}, nil
}

type fakeStore struct{}

func (fakeStore) Search(ctx context.Context, queryVector []float32, topK int, filter collaborators.SearchFilter) ([]collaborators.ChunkRecord, error) {
	return nil, nil
}

func (fakeStore) Ping(ctx context.Context) (bool, float64, error)      { return true, 1, nil }
func (fakeStore) HasVectorExtension(ctx context.Context) (bool, error) { return true, nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		APISecretToken:   testSecret,
		AllowedOrigins:   []string{"https://allowed.example.com"},
		RateLimitBackend: config.RateLimitMemory,
	}
	engine := retrieval.NewEngine(fakeEmbedder{}, fakeStore{}, nil)
	return New(Deps{
		Config:  cfg,
		Limiter: ratelimit.NewMemory(),
		Metrics: metrics.NewRegistry(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Engine:  engine,
		Store:   fakeStore{},
		Embedder: fakeEmbedder{},
	})
}

func TestHealth_ReturnsOKWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRetrieve_MissingTokenReturns401Envelope(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewReader([]byte(`{"query":"vacation policy"}`))
	req := httptest.NewRequest("POST", "/api/v1/retrieve", body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRetrieve_WrongTokenReturns401(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewReader([]byte(`{"query":"vacation policy"}`))
	req := httptest.NewRequest("POST", "/api/v1/retrieve", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRetrieve_ValidTokenSucceeds(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewReader([]byte(`{"query":"vacation policy"}`))
	req := httptest.NewRequest("POST", "/api/v1/retrieve", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRetrieve_AccessTokenHeaderFallbackAccepted(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewReader([]byte(`{"query":"vacation policy"}`))
	req := httptest.NewRequest("POST", "/api/v1/retrieve", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", testSecret)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRetrieve_OversizedDeclaredBodyRejected(t *testing.T) {
	s := newTestServer(t)
	payload := append([]byte(`{"query":"`), bytes.Repeat([]byte("a"), 60000)...)
	payload = append(payload, []byte(`"}`)...)
	req := httptest.NewRequest("POST", "/api/v1/retrieve", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testSecret)

	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 413, resp.StatusCode)
}

func TestRetrieve_MalformedJSONReturns400(t *testing.T) {
	s := newTestServer(t)
	body := bytes.NewReader([]byte(`not json`))
	req := httptest.NewRequest("POST", "/api/v1/retrieve", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestRetrieve_RateLimitExceededReturns429(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < ratelimit.Policy[ratelimit.Retrieve]; i++ {
		body := bytes.NewReader([]byte(`{"query":"vacation policy"}`))
		req := httptest.NewRequest("POST", "/api/v1/retrieve", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testSecret)
		resp, err := s.app.Test(req)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
	}

	body := bytes.NewReader([]byte(`{"query":"vacation policy"}`))
	req := httptest.NewRequest("POST", "/api/v1/retrieve", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestCORS_EchoesAllowedOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://allowed.example.com")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "https://allowed.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORS_FallsBackToFirstAllowedOriginForUnknownOrigin(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "https://allowed.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCacheHeaders_AlwaysNoStore(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
}

func TestOptions_ChatReturnsNoContent(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("OPTIONS", "/api/v1/chat", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}

func TestMetrics_RequiresAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestMetrics_ReturnsJSONWithAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["requestId"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Contains(t, body, "buckets")
}

func TestMetrics_TextPlainAcceptReturnsPrometheusStyleText(t *testing.T) {
	s := newTestServer(t)
	// A prior request creates the health bucket that the text body renders.
	healthResp, err := s.app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)
	require.Equal(t, 200, healthResp.StatusCode)

	req := httptest.NewRequest("GET", "/api/v1/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	req.Header.Set("Accept", "text/plain")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rag_requests_total{endpoint=")
	assert.Contains(t, string(body), "# requestId ")
	assert.Contains(t, string(body), "# timestamp ")
}
