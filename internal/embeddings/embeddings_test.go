package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doc-rag/internal/pipeline"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float32
	}{
		{"identical vectors", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0},
		{"orthogonal vectors", Vector{1, 0}, Vector{0, 1}, 0.0},
		{"opposite vectors", Vector{1, 0}, Vector{-1, 0}, -1.0},
		{"empty vectors", Vector{}, Vector{}, 0.0},
		{"different length vectors", Vector{1, 2}, Vector{1, 2, 3}, 0.0},
		{"zero vector", Vector{0, 0}, Vector{1, 1}, 0.0},
		{"normalized vectors 45 degrees", Vector{1, 0}, Vector{0.707, 0.707}, 0.707},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(result-tt.expected)) > 0.01 {
				t.Errorf("got %f, want %f", result, tt.expected)
			}
		})
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeEmbeddingsServer answers OpenAI-style embedding requests with a vector
// derived from each input's length. Indexes are returned in reverse order.
func fakeEmbeddingsServer(t *testing.T, calls *atomic.Int32, fail func(req embeddingRequest) bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if fail != nil && fail(req) {
			http.Error(w, `{"error":{"message":"model overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(req.Input[i])), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIEmbedderBatchPreservesOrder(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingsServer(t, &calls, nil)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "test-embed", BatchSize: 2})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "test-embed", e.Model())
}

func TestOpenAIEmbedderAllOrNothing(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingsServer(t, &calls, func(req embeddingRequest) bool {
		return req.Input[0] == "ccc"
	})
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "m", BatchSize: 2})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd"})
	assert.Nil(t, vecs)
	assert.ErrorIs(t, err, pipeline.ErrEmbedding)
}

func TestOpenAIEmbedderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/", Model: "m", Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, pipeline.ErrEmbedding)
}

func TestOpenAIEmbedderEmptyInput(t *testing.T) {
	e, err := NewOllamaEmbedder("http://127.0.0.1:1/v1/", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.Model())

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestNewOpenAIEmbedderRequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)
}

func TestRateLimitedDelegates(t *testing.T) {
	inner := new(MockEmbedder)
	inner.On("Model").Return("m")
	inner.On("Embed", mock.Anything, "q").Return(Vector{1}, nil).Once()
	inner.On("EmbedBatch", mock.Anything, []string{"a"}).Return([]Vector{{2}}, nil).Once()

	e := NewRateLimited(inner, 1000, 2)
	assert.Equal(t, "m", e.Model())

	v, err := e.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, Vector{1}, v)

	vs, err := e.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vs, 1)
	inner.AssertExpectations(t)
}

func TestRateLimitedCancelled(t *testing.T) {
	inner := new(MockEmbedder)
	inner.On("Embed", mock.Anything, "first").Return(Vector{1}, nil).Once()
	e := NewRateLimited(inner, 0.001, 1)

	ctx, cancel := context.WithCancel(context.Background())
	_, _ = e.Embed(ctx, "first") // consumes the only token
	cancel()

	_, err := e.Embed(ctx, "second")
	assert.ErrorIs(t, err, pipeline.ErrEmbedding)
}

func TestRateLimitedDisabled(t *testing.T) {
	inner := new(MockEmbedder)
	assert.Same(t, inner, NewRateLimited(inner, 0, 0))
}
