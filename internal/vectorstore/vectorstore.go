// Package vectorstore persists chunk embeddings and answers nearest-neighbour queries.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/embeddings"
	"doc-rag/internal/pipeline"
)

// recordNamespace seeds deterministic record ids.
var recordNamespace = uuid.MustParse("6f1c7a52-1d0b-4c55-9a0e-3c8f0d6b2e41")

// Record is what the store persists for one chunk.
type Record struct {
	ID         uuid.UUID         `json:"id"`
	DocumentID uuid.UUID         `json:"document_id"`
	Ordinal    int               `json:"ordinal"`
	Text       string            `json:"text"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Model      string            `json:"model"`
	Vector     embeddings.Vector `json:"-"`
}

// Search is a similarity query. Only records embedded with Model are eligible.
type Search struct {
	Vector      embeddings.Vector
	Model       string
	TopK        int
	DocumentIDs []uuid.UUID // empty means every document
}

// Match is a record with its cosine similarity to the query.
type Match struct {
	Record Record
	Score  float32
}

// Store is the vector store boundary. Upsert and Delete are atomic per call.
type Store interface {
	// Upsert replaces any record with the same (document id, ordinal).
	Upsert(ctx context.Context, records []Record) error
	// SimilaritySearch returns at most TopK matches, highest score first.
	SimilaritySearch(ctx context.Context, s Search) ([]Match, error)
	Delete(ctx context.Context, documentID uuid.UUID) error
	Close() error
}

// RecordID maps a chunk identity to its record id.
func RecordID(documentID uuid.UUID, ordinal int) uuid.UUID {
	return uuid.NewSHA1(recordNamespace, []byte(fmt.Sprintf("%s/%d", documentID, ordinal)))
}

// prepareBatch validates an upsert batch and stamps record ids. Every record
// must carry a vector and all must share one model.
func prepareBatch(records []Record) ([]Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	model := records[0].Model
	dim := len(records[0].Vector)
	out := make([]Record, len(records))
	for i, r := range records {
		switch {
		case r.DocumentID == uuid.Nil:
			return nil, pipeline.Errorf(pipeline.ErrVectorStore, "upsert", "record %d has no document id", i)
		case r.Ordinal < 0:
			return nil, pipeline.Errorf(pipeline.ErrVectorStore, "upsert", "record %d has negative ordinal", i)
		case r.Model == "":
			return nil, pipeline.Errorf(pipeline.ErrVectorStore, "upsert", "record %d has no embedding model", i)
		case r.Model != model:
			return nil, pipeline.Errorf(pipeline.ErrVectorStore, "upsert", "batch mixes embedding models %q and %q", model, r.Model)
		case len(r.Vector) == 0:
			return nil, pipeline.Errorf(pipeline.ErrVectorStore, "upsert", "record %d has an empty vector", i)
		case len(r.Vector) != dim:
			return nil, pipeline.Errorf(pipeline.ErrVectorStore, "upsert", "record %d has dimension %d, batch has %d", i, len(r.Vector), dim)
		}
		r.ID = RecordID(r.DocumentID, r.Ordinal)
		out[i] = r
	}
	return out, nil
}

func validateSearch(s Search) error {
	switch {
	case s.Model == "":
		return pipeline.Errorf(pipeline.ErrVectorStore, "search", "query has no embedding model")
	case s.TopK <= 0:
		return pipeline.Errorf(pipeline.ErrVectorStore, "search", "top_k must be positive, got %d", s.TopK)
	case len(s.Vector) == 0:
		return pipeline.Errorf(pipeline.ErrVectorStore, "search", "empty query vector")
	}
	return nil
}

// less orders matches by score descending, then document id, then ordinal.
func less(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Record.DocumentID != b.Record.DocumentID {
		return a.Record.DocumentID.String() < b.Record.DocumentID.String()
	}
	return a.Record.Ordinal < b.Record.Ordinal
}

func rank(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool { return less(matches[i], matches[j]) })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// WithTimeout bounds every call on inner by d.
func WithTimeout(inner Store, d time.Duration) Store {
	if d <= 0 {
		return inner
	}
	return &timeoutStore{inner: inner, timeout: d}
}

type timeoutStore struct {
	inner   Store
	timeout time.Duration
}

func (t *timeoutStore) Upsert(ctx context.Context, records []Record) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Upsert(ctx, records)
}

func (t *timeoutStore) SimilaritySearch(ctx context.Context, s Search) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.SimilaritySearch(ctx, s)
}

func (t *timeoutStore) Delete(ctx context.Context, documentID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Delete(ctx, documentID)
}

func (t *timeoutStore) Close() error { return t.inner.Close() }
