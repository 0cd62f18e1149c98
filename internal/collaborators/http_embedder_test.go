package collaborators

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEmbedder_OpenAIShapeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{3, 4}}},
		})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "", http.DefaultClient)
	out, err := e.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.6, out[0].Vector[0], 0.0001)
	assert.InDelta(t, 0.8, out[0].Vector[1], 0.0001)
	assert.Equal(t, "hello", out[0].Text)
}

func TestHTTPEmbedder_OllamaNativeShapeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 0}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "", http.DefaultClient)
	out, err := e.Embed(context.Background(), []string{"hi"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Vector[0], 0.0001)
}

func TestHTTPEmbedder_VectorCountMismatchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{1, 0}}},
		})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "", http.DefaultClient)
	_, err := e.Embed(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectors")
}

func TestHTTPEmbedder_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "", http.DefaultClient)
	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestHTTPEmbedder_SendsAuthorizationHeaderWhenAPIKeySet(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "sk-test", http.DefaultClient)
	_, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestNormalize_ZeroVectorReturnsUnchanged(t *testing.T) {
	v := normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestNormalize_UnitLengthAfterNormalization(t *testing.T) {
	v := normalize([]float32{3, 4})
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 0.0001)
}
