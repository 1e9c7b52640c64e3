package vectorstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"doc-rag/internal/embeddings"
	"doc-rag/internal/pipeline"
)

// Memory keeps records in process. A batch is applied under one write lock,
// so searches see all of it or none of it.
type Memory struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]map[int]Record
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[uuid.UUID]map[int]Record)}
}

func (m *Memory) Upsert(ctx context.Context, records []Record) error {
	batch, err := prepareBatch(records)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range batch {
		byOrd, ok := m.docs[r.DocumentID]
		if !ok {
			byOrd = make(map[int]Record)
			m.docs[r.DocumentID] = byOrd
		}
		r.Vector = slices.Clone(r.Vector)
		r.Metadata = maps.Clone(r.Metadata)
		byOrd[r.Ordinal] = r
	}
	return nil
}

func (m *Memory) SimilaritySearch(ctx context.Context, s Search) ([]Match, error) {
	if err := validateSearch(s); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var scope []uuid.UUID
	if len(s.DocumentIDs) > 0 {
		scope = s.DocumentIDs
	} else {
		scope = slices.Collect(maps.Keys(m.docs))
	}

	var matches []Match
	seen := make(map[uuid.UUID]bool, len(scope))
	for _, docID := range scope {
		if seen[docID] {
			continue
		}
		seen[docID] = true
		for _, r := range m.docs[docID] {
			if r.Model != s.Model {
				continue
			}
			if len(r.Vector) != len(s.Vector) {
				return nil, pipeline.Errorf(pipeline.ErrVectorStore, "search", "query dimension %d does not match stored dimension %d for model %q", len(s.Vector), len(r.Vector), s.Model)
			}
			out := r
			out.Vector = slices.Clone(r.Vector)
			out.Metadata = maps.Clone(r.Metadata)
			matches = append(matches, Match{Record: out, Score: embeddings.CosineSimilarity(s.Vector, r.Vector)})
		}
	}
	return rank(matches, s.TopK), nil
}

func (m *Memory) Delete(ctx context.Context, documentID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, documentID)
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, byOrd := range m.docs {
		n += len(byOrd)
	}
	return n
}

func (m *Memory) Close() error { return nil }
