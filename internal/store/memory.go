package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/chunker"
	"doc-rag/internal/extractor"
)

type summaryKey struct {
	doc  uuid.UUID
	mode string
}

// MemoryStore keeps everything in process. It backs the CLI and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[uuid.UUID]Document
	texts     map[uuid.UUID]extractor.ExtractedText
	chunks    map[uuid.UUID][]chunker.Chunk
	summaries map[summaryKey]Summary
	now       func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[uuid.UUID]Document),
		texts:     make(map[uuid.UUID]extractor.ExtractedText),
		chunks:    make(map[uuid.UUID][]chunker.Chunk),
		summaries: make(map[summaryKey]Summary),
		now:       time.Now,
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Status = StatusUploaded
	doc.CreatedAt = s.now()
	doc.UpdatedAt = doc.CreatedAt
	s.docs[doc.ID] = doc
	return doc, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) UpdateDocumentStatus(_ context.Context, id uuid.UUID, status DocumentStatus) error {
	return s.modify(id, func(d *Document) {
		d.Status = status
		d.FailedStage = ""
		d.Error = ""
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, stage Stage, reason string) error {
	return s.modify(id, func(d *Document) {
		d.Status = StatusFailed
		d.FailedStage = stage
		d.Error = reason
	})
}

func (s *MemoryStore) MarkIndexed(_ context.Context, id uuid.UUID, embeddingModel string) error {
	return s.modify(id, func(d *Document) {
		d.Status = StatusIndexed
		d.EmbeddingModel = embeddingModel
		d.FailedStage = ""
		d.Error = ""
	})
}

func (s *MemoryStore) modify(id uuid.UUID, fn func(*Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&d)
	d.UpdatedAt = s.now()
	s.docs[id] = d
	return nil
}

func (s *MemoryStore) SaveExtractedText(_ context.Context, text extractor.ExtractedText) error {
	id, err := uuid.Parse(text.DocumentID)
	if err != nil {
		return err
	}
	text.Elements = slices.Clone(text.Elements)
	s.mu.Lock()
	s.texts[id] = text
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetExtractedText(_ context.Context, docID uuid.UUID) (extractor.ExtractedText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.texts[docID]
	if !ok {
		return extractor.ExtractedText{}, ErrTextNotFound
	}
	t.Elements = slices.Clone(t.Elements)
	return t, nil
}

func (s *MemoryStore) ReplaceChunks(_ context.Context, docID uuid.UUID, chunks []chunker.Chunk) error {
	cp := slices.Clone(chunks)
	s.mu.Lock()
	s.chunks[docID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListChunks(_ context.Context, docID uuid.UUID) ([]chunker.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks[docID]), nil
}

func (s *MemoryStore) SaveSummary(_ context.Context, summary Summary) error {
	summary.KeyPoints = slices.Clone(summary.KeyPoints)
	summary.CreatedAt = s.now()
	s.mu.Lock()
	s.summaries[summaryKey{summary.DocumentID, summary.Mode}] = summary
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetSummary(_ context.Context, docID uuid.UUID, mode string) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[summaryKey{docID, mode}]
	if !ok {
		return Summary{}, ErrSummaryNotFound
	}
	return sum, nil
}

func (s *MemoryStore) Close() error { return nil }
