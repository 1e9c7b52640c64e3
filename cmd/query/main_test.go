package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doc-rag/internal/cache"
	"doc-rag/internal/embeddings"
	"doc-rag/internal/llm"
	"doc-rag/internal/logger"
	"doc-rag/internal/rag"
	"doc-rag/internal/retriever"
	"doc-rag/internal/vectorstore"
)

type fixture struct {
	embedder *embeddings.MockEmbedder
	llm      *llm.MockClient
	vectors  *vectorstore.Memory
	srv      *httptest.Server
	docA     uuid.UUID
	docB     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		embedder: new(embeddings.MockEmbedder),
		llm:      new(llm.MockClient),
		vectors:  vectorstore.NewMemory(),
		docA:     uuid.New(),
		docB:     uuid.New(),
	}
	f.embedder.On("Model").Return("test-embed")
	f.llm.On("Model").Return("test-llm")

	ctx := context.Background()
	require.NoError(t, f.vectors.Upsert(ctx, []vectorstore.Record{
		{DocumentID: f.docA, Ordinal: 0, Text: "Go is a programming language designed at Google.", Model: "test-embed",
			Vector: embeddings.Vector{1, 0}, Metadata: map[string]any{"source": "go.txt", "page": float64(2)}},
	}))
	require.NoError(t, f.vectors.Upsert(ctx, []vectorstore.Record{
		{DocumentID: f.docB, Ordinal: 0, Text: "Rust focuses on memory safety.", Model: "test-embed",
			Vector: embeddings.Vector{0.6, 0.8}, Metadata: map[string]any{"source": "rust.txt"}},
	}))

	log := logger.Discard()
	r := retriever.New(f.embedder, f.vectors, 5, log)
	o := rag.New(r, f.llm, cache.NewMemoryCache(), rag.Options{}, log)
	f.srv = httptest.NewServer(routes(log, o, r))
	t.Cleanup(f.srv.Close)
	return f
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestQueryHandler(t *testing.T) {
	f := newFixture(t)
	f.embedder.On("Embed", mock.Anything, "What is Go?").Return(embeddings.Vector{1, 0}, nil)

	var prompt llm.Prompt
	f.llm.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		prompt = args.Get(1).(llm.Prompt)
	}).Return("Go is a programming language.", nil).Once()

	resp, body := post(t, f.srv.URL+"/api/query", `{"question":"What is Go?","top_k":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Go is a programming language.", body["answer"])
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, "test-llm", body["model"])

	sources := body["sources"].([]any)
	require.Len(t, sources, 2)
	first := sources[0].(map[string]any)
	assert.Equal(t, f.docA.String(), first["document_id"])
	assert.Equal(t, "go.txt", first["source"])
	assert.Equal(t, float64(2), first["page"])
	assert.Contains(t, prompt.User, "Document: go.txt (page 2)")
	assert.Contains(t, prompt.User, "What is Go?")

	// The second identical question is served from cache with no new completion.
	resp, body = post(t, f.srv.URL+"/api/query", `{"question":"What is Go?","top_k":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, "Go is a programming language.", body["answer"])
	f.llm.AssertNumberOfCalls(t, "Generate", 1)
}

func TestQueryHandlerScopesToDocuments(t *testing.T) {
	f := newFixture(t)
	f.embedder.On("Embed", mock.Anything, "memory safety?").Return(embeddings.Vector{1, 0}, nil)
	f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(p llm.Prompt) bool {
		return strings.Contains(p.User, "Rust") && !strings.Contains(p.User, "Google")
	})).Return("Rust.", nil).Once()

	resp, body := post(t, f.srv.URL+"/api/query", `{"question":"memory safety?","document_ids":["`+f.docB.String()+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, f.docB.String(), sources[0].(map[string]any)["document_id"])
	f.llm.AssertExpectations(t)
}

func TestQueryHandlerErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		setup func(*fixture)
		want  int
	}{
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
		{name: "missing question", body: `{"top_k":3}`, want: http.StatusBadRequest},
		{name: "blank question", body: `{"question":"   "}`, want: http.StatusBadRequest},
		{name: "top k too large", body: `{"question":"q","top_k":1000}`, want: http.StatusBadRequest},
		{name: "invalid document id", body: `{"question":"q","document_ids":["nope"]}`, want: http.StatusBadRequest},
		{
			name: "embedding failure",
			body: `{"question":"q"}`,
			setup: func(f *fixture) {
				f.embedder.On("Embed", mock.Anything, "q").Return(nil, errors.New("embedder down"))
			},
			want: http.StatusBadGateway,
		},
		{
			name: "generation failure",
			body: `{"question":"q"}`,
			setup: func(f *fixture) {
				f.embedder.On("Embed", mock.Anything, "q").Return(embeddings.Vector{1, 0}, nil)
				f.llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("llm down"))
			},
			want: http.StatusBadGateway,
		},
		{
			name: "dimension mismatch",
			body: `{"question":"q"}`,
			setup: func(f *fixture) {
				f.embedder.On("Embed", mock.Anything, "q").Return(embeddings.Vector{1, 0, 0}, nil)
			},
			want: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			resp, body := post(t, f.srv.URL+"/api/query", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRetrieveHandler(t *testing.T) {
	f := newFixture(t)
	f.embedder.On("Embed", mock.Anything, "languages").Return(embeddings.Vector{0.6, 0.8}, nil)

	resp, body := post(t, f.srv.URL+"/api/retrieve", `{"question":"languages","top_k":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hits := body["hits"].([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, "Rust focuses on memory safety.", hits[0].(map[string]any)["text"])
	f.llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRetrieveHandlerEmptyIndex(t *testing.T) {
	emb := new(embeddings.MockEmbedder)
	emb.On("Model").Return("test-embed")
	emb.On("Embed", mock.Anything, "anything").Return(embeddings.Vector{1, 0}, nil)
	log := logger.Discard()
	r := retriever.New(emb, vectorstore.NewMemory(), 5, log)
	srv := httptest.NewServer(routes(log, rag.New(r, new(llm.MockClient), nil, rag.Options{}, log), r))
	defer srv.Close()

	resp, body := post(t, srv.URL+"/api/retrieve", `{"question":"anything"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["hits"])
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short", "hello", 10, "hello"},
		{"cuts at word boundary", "hello brave new world", 13, "hello brave..."},
		{"no space", "abcdefghij", 4, "abcd..."},
		{"counts runes", "héllo wörld", 7, "héllo..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}
