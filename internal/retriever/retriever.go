// Package retriever finds the chunks most similar to a question.
package retriever

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"doc-rag/internal/embeddings"
	"doc-rag/internal/pipeline"
	"doc-rag/internal/vectorstore"
)

// DefaultTopK applies when a query leaves TopK unset.
const DefaultTopK = 10

type Query struct {
	Question    string      `json:"question" validate:"required"`
	TopK        int         `json:"top_k,omitempty" validate:"gte=0,lte=100"`
	DocumentIDs []uuid.UUID `json:"document_ids,omitempty"`
}

// Hit is one retrieved chunk.
type Hit struct {
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	DocumentID uuid.UUID      `json:"document_id"`
	Ordinal    int            `json:"ordinal"`
	Score      float32        `json:"score"`
}

// Result holds hits ordered by descending score.
type Result struct {
	Hits []Hit `json:"hits"`
}

// Source returns the filename recorded on the hit, or "unknown".
func (h Hit) Source() string {
	if s, ok := h.Metadata["source"].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// Page returns the page recorded on the hit, or 0.
func (h Hit) Page() int {
	switch p := h.Metadata["page"].(type) {
	case int:
		return p
	case float64:
		return int(p)
	}
	return 0
}

type Retriever struct {
	embedder embeddings.Embedder
	vectors  vectorstore.Store
	topK     int
	log      *slog.Logger
}

// New builds a Retriever. defaultTopK <= 0 falls back to DefaultTopK.
func New(embedder embeddings.Embedder, vectors vectorstore.Store, defaultTopK int, log *slog.Logger) *Retriever {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{embedder: embedder, vectors: vectors, topK: defaultTopK, log: log.With("component", "retriever")}
}

// Model is the embedding model queries are matched against.
func (r *Retriever) Model() string { return r.embedder.Model() }

// DefaultTopK reports the top-k used for queries that leave it unset.
func (r *Retriever) DefaultTopK() int { return r.topK }

// Retrieve embeds the question and returns its nearest chunks. An empty
// index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (Result, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = r.topK
	}

	vec, err := r.embedder.Embed(ctx, q.Question)
	if err != nil {
		return Result{}, pipeline.Wrap(pipeline.ErrRetrieval, "embed question", err)
	}

	matches, err := r.vectors.SimilaritySearch(ctx, vectorstore.Search{
		Vector:      vec,
		Model:       r.embedder.Model(),
		TopK:        topK,
		DocumentIDs: q.DocumentIDs,
	})
	if err != nil {
		return Result{}, err
	}

	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit{
			Text:       m.Record.Text,
			Metadata:   m.Record.Metadata,
			DocumentID: m.Record.DocumentID,
			Ordinal:    m.Record.Ordinal,
			Score:      m.Score,
		}
	}
	r.log.Debug("retrieved chunks", "hits", len(hits), "top_k", topK, "scoped_documents", len(q.DocumentIDs))
	return Result{Hits: hits}, nil
}
